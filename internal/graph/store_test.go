package graph

import (
	"context"
	"testing"

	"github.com/kalambet/casefile/internal/extraction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateEntity_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.CreateEntity(ctx, extraction.TypePerson, "Ana Petrova", map[string]any{"role": "captain"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected store-assigned id")
	}

	all, err := s.AllEntities(ctx)
	if err != nil {
		t.Fatalf("AllEntities: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("entities = %d, want 1", len(all))
	}
	if all[0].Label != "Ana Petrova" || all[0].Type != extraction.TypePerson {
		t.Errorf("entity = %+v", all[0])
	}
	if all[0].Properties["role"] != "captain" {
		t.Errorf("properties = %+v, want role=captain", all[0].Properties)
	}
}

func TestCreateEntity_DedupCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateEntity(ctx, extraction.TypeOrganization, "Volkov Shipping", nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	second, err := s.CreateEntity(ctx, extraction.TypeOrganization, "volkov shipping", nil)
	if err != nil {
		t.Fatalf("CreateEntity (dup): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate create returned id %s, want existing %s", second.ID, first.ID)
	}

	all, err := s.AllEntities(ctx)
	if err != nil {
		t.Fatalf("AllEntities: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("entities = %d, want 1 after dedup", len(all))
	}
}

func TestCreateEntity_SameLabelDifferentType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateEntity(ctx, extraction.TypePerson, "Mercury", nil)
	b, err := s.CreateEntity(ctx, extraction.TypeAsset, "Mercury", nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if a.ID == b.ID {
		t.Error("same label under different types must be distinct entities")
	}
}

func TestAddRelationship_IdempotentEdge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateEntity(ctx, extraction.TypePerson, "Ana Petrova", nil)
	b, _ := s.CreateEntity(ctx, extraction.TypeOrganization, "Volkov Shipping", nil)

	if err := s.AddRelationship(ctx, a.ID, b.ID, "works_for"); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}
	if err := s.AddRelationship(ctx, a.ID, b.ID, "works_for"); err != nil {
		t.Fatalf("AddRelationship (dup): %v", err)
	}

	rels, err := s.Relationships(ctx)
	if err != nil {
		t.Fatalf("Relationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("relationships = %d, want 1", len(rels))
	}
	if rels[0].FromID != a.ID || rels[0].ToID != b.ID || rels[0].Label != "works_for" {
		t.Errorf("relationship = %+v", rels[0])
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := s.CreateEntity(context.Background(), extraction.TypePerson, "Ana Petrova", nil); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	all, err := s2.AllEntities(context.Background())
	if err != nil {
		t.Fatalf("AllEntities: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("entities = %d after reopen, want 1", len(all))
	}
}
