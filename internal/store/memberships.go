package store

import (
	"context"

	"flashnotes/engine/internal/engine"
)

func validateMembershipKey(entityID, collectionID int64) error {
	if err := validatePositiveID("entity_id", entityID); err != nil {
		return err
	}
	return validatePositiveID("collection_id", collectionID)
}

// Attach is insert-if-absent: attaching an existing membership is a
// no-op, not an error.
func (s *membershipRepo) Attach(ctx context.Context, entityID, collectionID int64) error {
	if err := validateMembershipKey(entityID, collectionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (entity_id, collection_id)
		VALUES ($1, $2)
		ON CONFLICT (entity_id, collection_id) DO NOTHING
	`, entityID, collectionID)
	if err != nil {
		return classify("attach membership", err)
	}
	return nil
}

func (s *membershipRepo) Detach(ctx context.Context, entityID, collectionID int64) (bool, error) {
	if err := validateMembershipKey(entityID, collectionID); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE entity_id=$1 AND collection_id=$2
	`, entityID, collectionID)
	if err != nil {
		return false, classify("detach membership", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classify("detach membership rows", err)
	}
	return affected > 0, nil
}

func (s *membershipRepo) Exists(ctx context.Context, entityID, collectionID int64) (bool, error) {
	if err := validateMembershipKey(entityID, collectionID); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM memberships WHERE entity_id=$1 AND collection_id=$2)
	`, entityID, collectionID).Scan(&exists)
	if err != nil {
		return false, classify("check membership", err)
	}
	return exists, nil
}

// ListEntityIDs returns the entities attached to a collection, in
// attachment order, optionally filtered to one object type.
func (s *membershipRepo) ListEntityIDs(ctx context.Context, collectionID int64, objectType engine.ObjectType) ([]int64, error) {
	if err := validatePositiveID("collection_id", collectionID); err != nil {
		return nil, err
	}
	if objectType != "" {
		if err := validateEntityType(objectType); err != nil {
			return nil, err
		}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.entity_id
		FROM memberships m
		JOIN entities e ON e.id = m.entity_id
		WHERE m.collection_id=$1
		  AND ($2='' OR e.object_type=$2)
		ORDER BY m.created_at ASC, m.entity_id ASC
	`, collectionID, string(objectType))
	if err != nil {
		return nil, classify("list membership entities", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan membership entity", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate membership entities", err)
	}
	return ids, nil
}

func (s *membershipRepo) ListCollectionIDs(ctx context.Context, entityID int64) ([]int64, error) {
	if err := validatePositiveID("entity_id", entityID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_id FROM memberships
		WHERE entity_id=$1
		ORDER BY collection_id ASC
	`, entityID)
	if err != nil {
		return nil, classify("list membership collections", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan membership collection", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate membership collections", err)
	}
	return ids, nil
}

// Sync reconciles a collection's membership to exactly the desired set:
// ids outside it are detached, missing ones attached, and the counts
// reported. With an object type given, only memberships of that type
// are considered for removal.
func (s *membershipRepo) Sync(ctx context.Context, collectionID int64, objectType engine.ObjectType, desired []int64) (engine.SyncResult, error) {
	if err := validatePositiveID("collection_id", collectionID); err != nil {
		return engine.SyncResult{}, err
	}
	for _, id := range desired {
		if err := validatePositiveID("entity_id", id); err != nil {
			return engine.SyncResult{}, err
		}
	}

	current, err := s.ListEntityIDs(ctx, collectionID, objectType)
	if err != nil {
		return engine.SyncResult{}, err
	}
	added, removed, kept := diffIDs(current, desired)

	for _, id := range removed {
		if _, err := s.Detach(ctx, id, collectionID); err != nil {
			return engine.SyncResult{}, err
		}
	}
	for _, id := range added {
		if err := s.Attach(ctx, id, collectionID); err != nil {
			return engine.SyncResult{}, err
		}
	}
	return engine.SyncResult{Added: len(added), Removed: len(removed), Kept: kept}, nil
}

func (s *membershipRepo) Clear(ctx context.Context, collectionID int64) (int, error) {
	if err := validatePositiveID("collection_id", collectionID); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE collection_id=$1`, collectionID)
	if err != nil {
		return 0, classify("clear memberships", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, classify("clear memberships rows", err)
	}
	return int(affected), nil
}
