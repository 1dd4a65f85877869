package search

import (
	"context"
	"log"

	"flashnotes/engine/internal/engine"
)

// Service is the facade that tries Meilisearch first and falls back to
// PG FTS. It implements engine.EntityIndexer.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEntity indexes an entity (fire-and-forget to Meilisearch).
func (s *Service) IndexEntity(e engine.Entity) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := RecordFromEntity(e)
	go func() {
		if err := s.meili.IndexEntityRecord(rec); err != nil {
			log.Printf("search: index entity %d: %v", rec.ID, err)
		}
	}()
}

// DeleteEntity removes an entity from the search index (fire-and-forget).
func (s *Service) DeleteEntity(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteEntityRecord(id); err != nil {
			log.Printf("search: delete entity %d: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads all active entities from PostgreSQL and pushes
// them to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexEntityRecords(records); err != nil {
		log.Printf("search: reindex entities: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
