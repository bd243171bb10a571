package area

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hearthd/hearth-core/internal/entity"
)

// maxNameLength bounds area display names.
const maxNameLength = 128

// Registry provides validated area management on top of a Repository.
//
// All public methods are thread-safe insofar as the underlying
// repository is; the registry itself holds no mutable state.
type Registry struct {
	repo Repository
}

// NewRegistry creates an area registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// Create registers a new area. The slug is derived from the name and
// must be unique; a clash returns ErrAreaExists.
func (r *Registry) Create(ctx context.Context, name string, floor *string) (*Area, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	slug := entity.Slugify(name)
	if _, err := r.repo.GetBySlug(ctx, slug); err == nil {
		return nil, fmt.Errorf("%w: slug %q", ErrAreaExists, slug)
	} else if !errors.Is(err, ErrAreaNotFound) {
		return nil, err
	}

	a := &Area{
		ID:    uuid.NewString(),
		Name:  name,
		Slug:  slug,
		Floor: floor,
	}
	if err := r.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return r.repo.GetByID(ctx, a.ID)
}

// Get returns an area by id.
func (r *Registry) Get(ctx context.Context, id string) (*Area, error) {
	return r.repo.GetByID(ctx, id)
}

// List returns all areas.
func (r *Registry) List(ctx context.Context) ([]Area, error) {
	return r.repo.List(ctx)
}

// Update renames an area or changes its floor. The slug is fixed at
// creation so entity references stay stable across renames.
func (r *Registry) Update(ctx context.Context, id, name string, floor *string) (*Area, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	a, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Name = name
	a.Floor = floor
	if err := r.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return r.repo.GetByID(ctx, id)
}

// Delete removes an area. Areas still referenced by entities cannot be
// deleted; unassign the entities first.
func (r *Registry) Delete(ctx context.Context, id string) error {
	count, err := r.repo.EntityCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d entities assigned", ErrAreaInUse, count)
	}
	return r.repo.Delete(ctx, id)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if entity.Slugify(name) == "" {
		return fmt.Errorf("%w: name has no usable characters", ErrInvalidName)
	}
	return nil
}
