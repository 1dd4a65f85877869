package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the entities table using plainto_tsquery and ts_rank,
// with ts_headline for snippets. Orphaned and soft-deleted rows are
// excluded.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "e.fts @@ " + tsQuery + " AND e.status = 'active' AND e.deleted_at IS NULL"
	if q.FilterType != "" {
		where += fmt.Sprintf(" AND e.object_type = $%d", argN)
		args = append(args, string(q.FilterType))
		argN++
	}
	if q.FilterOwnerID != 0 {
		where += fmt.Sprintf(" AND e.owner_id = $%d", argN)
		args = append(args, q.FilterOwnerID)
		argN++
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf("SELECT count(*) FROM entities e WHERE %s", where)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT e.id, e.object_type, e.block_id, e.content, e.explanation, e.status,
			ts_headline('english', coalesce(e.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM entities e
		WHERE %s
		ORDER BY ts_rank(e.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ObjectType, &r.BlockID, &r.Content, &r.Explanation, &r.Status, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable entity rows for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntityRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, object_type, block_id, owner_id, content, explanation, status
		FROM entities
		WHERE status = 'active' AND deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	records := make([]EntityRecord, 0)
	for rows.Next() {
		var rec EntityRecord
		if err := rows.Scan(&rec.ID, &rec.ObjectType, &rec.BlockID, &rec.OwnerID, &rec.Content, &rec.Explanation, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return records, nil
}
