package area

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()

	a, err := r.Create(ctx, "  Guest Bedroom ", nil)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if a.ID == "" {
		t.Error("ID not assigned")
	}
	if a.Name != "Guest Bedroom" {
		t.Errorf("Name = %q, want trimmed", a.Name)
	}
	if a.Slug != "guest_bedroom" {
		t.Errorf("Slug = %q, want guest_bedroom", a.Slug)
	}
}

func TestRegistryCreateDuplicateSlug(t *testing.T) {
	r := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()

	// "Kitchen!" slugs to "kitchen", which the fixture already has.
	if _, err := r.Create(ctx, "Kitchen!", nil); !errors.Is(err, ErrAreaExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrAreaExists", err)
	}
}

func TestRegistryCreateInvalidName(t *testing.T) {
	r := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()

	cases := []string{"", "   ", "!!!", strings.Repeat("x", 200)}
	for _, name := range cases {
		if _, err := r.Create(ctx, name, nil); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Create(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestRegistryUpdateKeepsSlug(t *testing.T) {
	r := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()

	floor := "ground"
	a, err := r.Update(ctx, "area-office", "Snug", &floor)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if a.Name != "Snug" {
		t.Errorf("Name = %q", a.Name)
	}
	if a.Slug != "office" {
		t.Errorf("Slug = %q, want office (stable across renames)", a.Slug)
	}
	if a.Floor == nil || *a.Floor != "ground" {
		t.Errorf("Floor = %v", a.Floor)
	}
}

func TestRegistryDeleteInUse(t *testing.T) {
	r := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()

	if err := r.Delete(ctx, "area-kitchen"); !errors.Is(err, ErrAreaInUse) {
		t.Errorf("Delete(in use) error = %v, want ErrAreaInUse", err)
	}
	if err := r.Delete(ctx, "area-office"); err != nil {
		t.Errorf("Delete(unused) error: %v", err)
	}
}
