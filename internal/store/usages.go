package store

import (
	"context"

	"flashnotes/engine/internal/engine"
)

func validateUsage(u engine.Usage) error {
	if err := validateUsageType(u.ObjectType); err != nil {
		return err
	}
	if err := validatePositiveID("object_id", u.ObjectID); err != nil {
		return err
	}
	if err := validateIdentifier("document_id", u.DocumentID); err != nil {
		return err
	}
	return validateIdentifier("block_id", u.BlockID)
}

func (s *usageRepo) Attach(ctx context.Context, u engine.Usage) error {
	if err := validateUsage(u); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usages (object_type, object_id, document_id, block_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (object_type, object_id, document_id, block_id) DO NOTHING
	`, u.ObjectType, u.ObjectID, u.DocumentID, u.BlockID)
	if err != nil {
		return classify("attach usage", err)
	}
	return nil
}

func (s *usageRepo) Detach(ctx context.Context, u engine.Usage) (bool, error) {
	if err := validateUsage(u); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usages
		WHERE object_type=$1 AND object_id=$2 AND document_id=$3 AND block_id=$4
	`, u.ObjectType, u.ObjectID, u.DocumentID, u.BlockID)
	if err != nil {
		return false, classify("detach usage", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classify("detach usage rows", err)
	}
	return affected > 0, nil
}

func (s *usageRepo) Exists(ctx context.Context, u engine.Usage) (bool, error) {
	if err := validateUsage(u); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM usages
			WHERE object_type=$1 AND object_id=$2 AND document_id=$3 AND block_id=$4
		)
	`, u.ObjectType, u.ObjectID, u.DocumentID, u.BlockID).Scan(&exists)
	if err != nil {
		return false, classify("check usage", err)
	}
	return exists, nil
}

func (s *usageRepo) ListByDocument(ctx context.Context, documentID string, objectType engine.ObjectType) ([]engine.Usage, error) {
	if err := validateIdentifier("document_id", documentID); err != nil {
		return nil, err
	}
	if objectType != "" {
		if err := validateUsageType(objectType); err != nil {
			return nil, err
		}
	}
	return s.list(ctx, `
		SELECT object_type, object_id, document_id, block_id
		FROM usages
		WHERE document_id=$1
		  AND ($2='' OR object_type=$2)
		ORDER BY block_id ASC, object_type ASC
	`, documentID, string(objectType))
}

func (s *usageRepo) ListByObject(ctx context.Context, objectType engine.ObjectType, objectID int64) ([]engine.Usage, error) {
	if err := validateUsageType(objectType); err != nil {
		return nil, err
	}
	if err := validatePositiveID("object_id", objectID); err != nil {
		return nil, err
	}
	return s.list(ctx, `
		SELECT object_type, object_id, document_id, block_id
		FROM usages
		WHERE object_type=$1 AND object_id=$2
		ORDER BY document_id ASC, block_id ASC
	`, string(objectType), objectID)
}

func (s *usageRepo) list(ctx context.Context, query string, args ...any) ([]engine.Usage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list usages", err)
	}
	defer rows.Close()

	items := make([]engine.Usage, 0)
	for rows.Next() {
		var u engine.Usage
		if err := rows.Scan(&u.ObjectType, &u.ObjectID, &u.DocumentID, &u.BlockID); err != nil {
			return nil, classify("scan usage", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate usages", err)
	}
	return items, nil
}

// CountByBlockID counts remaining usage rows for a block id across all
// documents and object types. The orphan rule keys off this.
func (s *usageRepo) CountByBlockID(ctx context.Context, blockID string) (int, error) {
	if err := validateIdentifier("block_id", blockID); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usages WHERE block_id=$1`, blockID).Scan(&count)
	if err != nil {
		return 0, classify("count usages by block_id", err)
	}
	return count, nil
}

// Sync reconciles a document's usage rows to exactly the desired set.
// The propagation engine's stale-relationship removal is a
// specialization of this that additionally runs the orphan rule on each
// removed row.
func (s *usageRepo) Sync(ctx context.Context, documentID string, desired []engine.Usage) (engine.SyncResult, error) {
	if err := validateIdentifier("document_id", documentID); err != nil {
		return engine.SyncResult{}, err
	}
	desiredSet := make(map[engine.Usage]bool, len(desired))
	for _, u := range desired {
		u.DocumentID = documentID
		if err := validateUsage(u); err != nil {
			return engine.SyncResult{}, err
		}
		desiredSet[u] = true
	}

	current, err := s.ListByDocument(ctx, documentID, "")
	if err != nil {
		return engine.SyncResult{}, err
	}

	result := engine.SyncResult{}
	currentSet := make(map[engine.Usage]bool, len(current))
	for _, u := range current {
		currentSet[u] = true
		if desiredSet[u] {
			result.Kept++
			continue
		}
		if _, err := s.Detach(ctx, u); err != nil {
			return engine.SyncResult{}, err
		}
		result.Removed++
	}
	for u := range desiredSet {
		if currentSet[u] {
			continue
		}
		if err := s.Attach(ctx, u); err != nil {
			return engine.SyncResult{}, err
		}
		result.Added++
	}
	return result, nil
}

func (s *usageRepo) Clear(ctx context.Context, documentID string) (int, error) {
	if err := validateIdentifier("document_id", documentID); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM usages WHERE document_id=$1`, documentID)
	if err != nil {
		return 0, classify("clear usages", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, classify("clear usages rows", err)
	}
	return int(affected), nil
}
