package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"flashnotes/engine/internal/engine"
)

func (s *collectionRepo) FindBySetDocumentID(ctx context.Context, setDocumentID string) (*engine.Collection, error) {
	if err := validateIdentifier("set_document_id", setDocumentID); err != nil {
		return nil, err
	}
	var c engine.Collection
	var origin sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, origin_document_id, set_document_id, owner_id, created_at, updated_at
		FROM collections
		WHERE set_document_id=$1
	`, setDocumentID).Scan(&c.ID, &c.Title, &origin, &c.SetDocumentID, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find collection", err)
	}
	c.OriginDocumentID = origin.String
	return &c, nil
}

func (s *collectionRepo) Insert(ctx context.Context, c engine.Collection) (int64, error) {
	if err := validateIdentifier("set_document_id", c.SetDocumentID); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO collections (title, origin_document_id, set_document_id, owner_id)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		RETURNING id
	`, c.Title, c.OriginDocumentID, c.SetDocumentID, c.OwnerID).Scan(&id)
	if err != nil {
		return 0, classify("insert collection", err)
	}
	return id, nil
}

func (s *collectionRepo) UpdateTitle(ctx context.Context, id int64, title string) (bool, error) {
	if err := validatePositiveID("collection_id", id); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE collections SET title=$2, updated_at=NOW()
		WHERE id=$1 AND title <> $2
	`, id, title)
	if err != nil {
		return false, classify("update collection title", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classify("update collection title rows", err)
	}
	if affected > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM collections WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, classify("check collection", err)
	}
	if !exists {
		return false, &engine.NotFoundError{Kind: "collection", Key: strconv.FormatInt(id, 10)}
	}
	return false, nil
}
