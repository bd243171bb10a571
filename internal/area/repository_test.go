package area

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the areas and
// entities tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE areas (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			slug       TEXT NOT NULL UNIQUE,
			floor      TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE entities (
			id      TEXT PRIMARY KEY,
			area_id TEXT
		);

		INSERT INTO areas (id, name, slug, floor, created_at, updated_at) VALUES
			('area-kitchen', 'Kitchen', 'kitchen', 'ground', '2026-08-01T10:00:00Z', '2026-08-01T10:00:00Z'),
			('area-office', 'Office', 'office', NULL, '2026-08-01T10:00:00Z', '2026-08-01T10:00:00Z');

		INSERT INTO entities (id, area_id) VALUES
			('sensor.kitchen_temp', 'area-kitchen'),
			('switch.kitchen_light', 'area-kitchen'),
			('sensor.unassigned', NULL);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepositoryCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	floor := "first"
	a := &Area{ID: "area-bed", Name: "Bedroom", Slug: "bedroom", Floor: &floor}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, "area-bed")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != "Bedroom" || got.Slug != "bedroom" {
		t.Errorf("got %+v", got)
	}
	if got.Floor == nil || *got.Floor != "first" {
		t.Errorf("Floor = %v, want first", got.Floor)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestRepositoryGetBySlug(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	got, err := repo.GetBySlug(ctx, "office")
	if err != nil {
		t.Fatalf("GetBySlug() error: %v", err)
	}
	if got.ID != "area-office" {
		t.Errorf("ID = %q", got.ID)
	}
	if got.Floor != nil {
		t.Errorf("Floor = %v, want nil", got.Floor)
	}

	if _, err := repo.GetBySlug(ctx, "basement"); !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("missing slug error = %v, want ErrAreaNotFound", err)
	}
}

func TestRepositoryList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	areas, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(areas) != 2 {
		t.Fatalf("List() returned %d areas, want 2", len(areas))
	}
	// Ordered by name.
	if areas[0].Name != "Kitchen" || areas[1].Name != "Office" {
		t.Errorf("order = %s, %s", areas[0].Name, areas[1].Name)
	}
}

func TestRepositoryUpdate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a, _ := repo.GetByID(ctx, "area-office")
	a.Name = "Study"
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, _ := repo.GetByID(ctx, "area-office")
	if got.Name != "Study" {
		t.Errorf("Name = %q, want Study", got.Name)
	}
	if got.Slug != "office" {
		t.Errorf("Slug changed to %q on rename", got.Slug)
	}

	missing := &Area{ID: "area-nope", Name: "X"}
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrAreaNotFound", err)
	}
}

func TestRepositoryDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Delete(ctx, "area-office"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := repo.GetByID(ctx, "area-office"); !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("GetByID after delete = %v, want ErrAreaNotFound", err)
	}
	if err := repo.Delete(ctx, "area-office"); !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("second Delete = %v, want ErrAreaNotFound", err)
	}
}

func TestRepositoryEntityCount(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	count, err := repo.EntityCount(ctx, "area-kitchen")
	if err != nil {
		t.Fatalf("EntityCount() error: %v", err)
	}
	if count != 2 {
		t.Errorf("EntityCount(kitchen) = %d, want 2", count)
	}

	count, err = repo.EntityCount(ctx, "area-office")
	if err != nil {
		t.Fatalf("EntityCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("EntityCount(office) = %d, want 0", count)
	}
}
