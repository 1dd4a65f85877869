package store

import (
	"context"
	"os"
	"testing"

	"flashnotes/engine/internal/block"
	"flashnotes/engine/internal/engine"
)

// testStore opens a real Postgres instance, applies migrations, and
// truncates all engine tables. Integration tests skip unless
// TEST_DATABASE_URL is set.
func testStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE usages, memberships, collections, entities RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPostgresStore(db)
}

func cardReference(blockID, content string) block.NormalizedReference {
	return block.NormalizedReference{
		ObjectType: block.TypeCard,
		BlockID:    blockID,
		Attrs:      map[string]any{"content": content},
	}
}

func TestUpsertByBlockIDUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "v1"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "v2"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upserts created distinct rows: %d and %d", first.ID, second.ID)
	}
	if second.Content != "v2" {
		t.Fatalf("content = %q, want last upsert's value", second.Content)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE block_id='c1'`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows for block_id c1, want 1", count)
	}
}

func TestUpdateDetectsNoChange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entity, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "same"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	content := "same"
	changed, err := s.Entities().Update(ctx, entity.ID, engine.EntityPatch{Content: &content})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed {
		t.Fatal("update reported a change for identical values")
	}

	content = "different"
	changed, err = s.Entities().Update(ctx, entity.ID, engine.EntityPatch{Content: &content})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("update did not report a real change")
	}
}

func TestInsertDuplicateBlockIDConflicts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Entities().Insert(ctx, engine.Entity{ObjectType: engine.ObjectCard, BlockID: "c1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := s.Entities().Insert(ctx, engine.Entity{ObjectType: engine.ObjectNote, BlockID: "c1"})
	if !engine.IsConflict(err) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestReadMissingEntityNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Entities().Read(context.Background(), 999999)
	if !engine.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestSoftDeleteHidesFromBlockLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entity, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "x"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	deleted, err := s.Entities().SoftDelete(ctx, entity.ID)
	if err != nil || !deleted {
		t.Fatalf("soft delete: %v %v", deleted, err)
	}

	found, err := s.Entities().FindByBlockID(ctx, "c1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != nil {
		t.Fatal("soft-deleted entity still resolvable by block_id")
	}

	// Second soft delete is a no-op, not an error.
	deleted, err = s.Entities().SoftDelete(ctx, entity.ID)
	if err != nil || deleted {
		t.Fatalf("repeat soft delete: %v %v", deleted, err)
	}
}

func TestMembershipSyncConvergence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var ids []int64
	for _, blockID := range []string{"c10", "c11", "c12"} {
		entity, err := s.Entities().UpsertByBlockID(ctx, cardReference(blockID, blockID))
		if err != nil {
			t.Fatalf("upsert %s: %v", blockID, err)
		}
		ids = append(ids, entity.ID)
	}
	collectionID, err := s.Collections().Insert(ctx, engine.Collection{Title: "Set", SetDocumentID: "set-1"})
	if err != nil {
		t.Fatalf("insert collection: %v", err)
	}

	// Current membership {c10, c12}; desired {c10, c11}.
	for _, id := range []int64{ids[0], ids[2]} {
		if err := s.Memberships().Attach(ctx, id, collectionID); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	result, err := s.Memberships().Sync(ctx, collectionID, engine.ObjectCard, []int64{ids[0], ids[1]})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Added != 1 || result.Removed != 1 || result.Kept != 1 {
		t.Fatalf("result = %+v, want {1 1 1}", result)
	}

	after, err := s.Memberships().ListEntityIDs(ctx, collectionID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !sameIDs(after, []int64{ids[0], ids[1]}) {
		t.Fatalf("membership after sync = %v, want %v", after, []int64{ids[0], ids[1]})
	}

	// Re-syncing the same desired set changes nothing.
	result, err = s.Memberships().Sync(ctx, collectionID, engine.ObjectCard, []int64{ids[0], ids[1]})
	if err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	if result.Added != 0 || result.Removed != 0 || result.Kept != 2 {
		t.Fatalf("re-sync result = %+v, want {0 0 2}", result)
	}
}

func TestUsageAttachIdempotentAndCounted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entity, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "x"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u := engine.Usage{ObjectType: engine.ObjectCard, ObjectID: entity.ID, DocumentID: "doc-1", BlockID: "c1"}
	for i := 0; i < 3; i++ {
		if err := s.Usages().Attach(ctx, u); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}

	count, err := s.Usages().CountByBlockID(ctx, "c1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 after repeated attach", count)
	}

	removed, err := s.Usages().Detach(ctx, u)
	if err != nil || !removed {
		t.Fatalf("detach: %v %v", removed, err)
	}
	removed, err = s.Usages().Detach(ctx, u)
	if err != nil || removed {
		t.Fatalf("second detach should not report a deletion: %v %v", removed, err)
	}
}

func TestUsageSyncConvergence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var ids []int64
	for _, blockID := range []string{"c20", "c21", "c22"} {
		entity, err := s.Entities().UpsertByBlockID(ctx, cardReference(blockID, blockID))
		if err != nil {
			t.Fatalf("upsert %s: %v", blockID, err)
		}
		ids = append(ids, entity.ID)
	}
	usage := func(i int, blockID string) engine.Usage {
		return engine.Usage{ObjectType: engine.ObjectCard, ObjectID: ids[i], DocumentID: "doc-1", BlockID: blockID}
	}

	// Current usage {c20, c22}; desired {c20, c21}.
	for _, u := range []engine.Usage{usage(0, "c20"), usage(2, "c22")} {
		if err := s.Usages().Attach(ctx, u); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	result, err := s.Usages().Sync(ctx, "doc-1", []engine.Usage{usage(0, "c20"), usage(1, "c21")})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Added != 1 || result.Removed != 1 || result.Kept != 1 {
		t.Fatalf("result = %+v, want {1 1 1}", result)
	}

	after, err := s.Usages().ListByDocument(ctx, "doc-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	blocks := make(map[string]bool, len(after))
	for _, u := range after {
		blocks[u.BlockID] = true
	}
	if len(after) != 2 || !blocks["c20"] || !blocks["c21"] {
		t.Fatalf("usages after sync = %v, want c20 and c21", after)
	}

	// Re-syncing the same desired set changes nothing.
	result, err = s.Usages().Sync(ctx, "doc-1", []engine.Usage{usage(0, "c20"), usage(1, "c21")})
	if err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	if result.Added != 0 || result.Removed != 0 || result.Kept != 2 {
		t.Fatalf("re-sync result = %+v, want {0 0 2}", result)
	}
}

func TestUsageClearScopedToDocument(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entity, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "x"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, docID := range []string{"doc-1", "doc-2"} {
		u := engine.Usage{ObjectType: engine.ObjectCard, ObjectID: entity.ID, DocumentID: docID, BlockID: "c1"}
		if err := s.Usages().Attach(ctx, u); err != nil {
			t.Fatalf("attach in %s: %v", docID, err)
		}
	}

	removed, err := s.Usages().Clear(ctx, "doc-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("cleared %d rows, want 1", removed)
	}
	count, err := s.Usages().CountByBlockID(ctx, "c1")
	if err != nil || count != 1 {
		t.Fatalf("count after clear = %d %v, want the doc-2 row to survive", count, err)
	}

	removed, err = s.Usages().Clear(ctx, "doc-1")
	if err != nil || removed != 0 {
		t.Fatalf("repeat clear = %d %v, want 0 rows", removed, err)
	}
}

func TestCollectionDuplicateSetDocumentConflicts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Collections().Insert(ctx, engine.Collection{Title: "A", SetDocumentID: "set-1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := s.Collections().Insert(ctx, engine.Collection{Title: "B", SetDocumentID: "set-1"})
	if !engine.IsConflict(err) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestEntityDeleteCascadesRelationships(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entity, err := s.Entities().UpsertByBlockID(ctx, cardReference("c1", "x"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	collectionID, err := s.Collections().Insert(ctx, engine.Collection{Title: "Set", SetDocumentID: "set-1"})
	if err != nil {
		t.Fatalf("insert collection: %v", err)
	}
	if err := s.Memberships().Attach(ctx, entity.ID, collectionID); err != nil {
		t.Fatalf("attach membership: %v", err)
	}
	if err := s.Usages().Attach(ctx, engine.Usage{ObjectType: engine.ObjectCard, ObjectID: entity.ID, DocumentID: "doc-1", BlockID: "c1"}); err != nil {
		t.Fatalf("attach usage: %v", err)
	}

	if _, err := s.Entities().Delete(ctx, entity.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err := s.Memberships().Exists(ctx, entity.ID, collectionID)
	if err != nil || exists {
		t.Fatalf("membership survived entity delete: %v %v", exists, err)
	}
	count, err := s.Usages().CountByBlockID(ctx, "c1")
	if err != nil || count != 0 {
		t.Fatalf("usage survived entity delete: %d %v", count, err)
	}
}
