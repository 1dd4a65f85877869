package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"flashnotes/engine/internal/block"
	"flashnotes/engine/internal/engine"
)

const entityColumns = `id, object_type, block_id, status, owner_id, content, answers_json, explanation, next_due, ease_factor, streak, deleted_at, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (engine.Entity, error) {
	var e engine.Entity
	var nextDue, deletedAt sql.NullTime
	var easeFactor sql.NullFloat64
	var streak sql.NullInt64
	err := row.Scan(
		&e.ID,
		&e.ObjectType,
		&e.BlockID,
		&e.Status,
		&e.OwnerID,
		&e.Content,
		&e.Answers,
		&e.Explanation,
		&nextDue,
		&easeFactor,
		&streak,
		&deletedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return engine.Entity{}, err
	}
	if nextDue.Valid {
		t := nextDue.Time
		e.NextDue = &t
	}
	if easeFactor.Valid {
		f := easeFactor.Float64
		e.EaseFactor = &f
	}
	if streak.Valid {
		n := int(streak.Int64)
		e.Streak = &n
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return e, nil
}

func (s *entityRepo) Insert(ctx context.Context, e engine.Entity) (int64, error) {
	if err := validateEntityType(e.ObjectType); err != nil {
		return 0, err
	}
	if err := validateIdentifier("block_id", e.BlockID); err != nil {
		return 0, err
	}
	if e.Status == "" {
		e.Status = engine.StatusActive
	}
	if err := validateStatus(e.Status); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO entities (object_type, block_id, status, owner_id, content, answers_json, explanation, next_due, ease_factor, streak)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, e.ObjectType, e.BlockID, e.Status, e.OwnerID, e.Content, e.Answers, e.Explanation, e.NextDue, e.EaseFactor, e.Streak).Scan(&id)
	if err != nil {
		return 0, classify("insert entity", err)
	}
	return id, nil
}

func (s *entityRepo) Read(ctx context.Context, id int64) (engine.Entity, error) {
	if err := validatePositiveID("id", id); err != nil {
		return engine.Entity{}, err
	}
	e, err := scanEntity(s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Entity{}, &engine.NotFoundError{Kind: "entity", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return engine.Entity{}, classify("read entity", err)
	}
	return e, nil
}

// Update writes only the columns whose provided value differs from the
// stored one. It reports false without touching the row when nothing
// actually changed.
func (s *entityRepo) Update(ctx context.Context, id int64, patch engine.EntityPatch) (bool, error) {
	current, err := s.Read(ctx, id)
	if err != nil {
		return false, err
	}

	sets := make([]string, 0, 8)
	args := []any{id}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if patch.Status != nil && *patch.Status != current.Status {
		if err := validateStatus(*patch.Status); err != nil {
			return false, err
		}
		set("status", *patch.Status)
	}
	if patch.OwnerID != nil && *patch.OwnerID != current.OwnerID {
		set("owner_id", *patch.OwnerID)
	}
	if patch.Content != nil && *patch.Content != current.Content {
		set("content", *patch.Content)
	}
	if patch.Answers != nil && *patch.Answers != current.Answers {
		set("answers_json", *patch.Answers)
	}
	if patch.Explanation != nil && *patch.Explanation != current.Explanation {
		set("explanation", *patch.Explanation)
	}
	if patch.NextDue != nil && (current.NextDue == nil || !current.NextDue.Equal(*patch.NextDue)) {
		set("next_due", *patch.NextDue)
	}
	if patch.EaseFactor != nil && (current.EaseFactor == nil || *current.EaseFactor != *patch.EaseFactor) {
		set("ease_factor", *patch.EaseFactor)
	}
	if patch.Streak != nil && (current.Streak == nil || *current.Streak != *patch.Streak) {
		set("streak", *patch.Streak)
	}

	if len(sets) == 0 {
		return false, nil
	}

	query := "UPDATE entities SET " + joinSets(sets) + ", updated_at=NOW() WHERE id=$1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return false, classify("update entity", err)
	}
	return true, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func (s *entityRepo) Delete(ctx context.Context, id int64) (bool, error) {
	if err := validatePositiveID("id", id); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id=$1`, id)
	if err != nil {
		return false, classify("delete entity", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classify("delete entity rows", err)
	}
	if affected == 0 {
		return false, &engine.NotFoundError{Kind: "entity", Key: strconv.FormatInt(id, 10)}
	}
	return true, nil
}

// SoftDelete marks the row deleted without removing it. Returns false
// when the row was already soft-deleted.
func (s *entityRepo) SoftDelete(ctx context.Context, id int64) (bool, error) {
	if err := validatePositiveID("id", id); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE entities SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return false, classify("soft delete entity", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classify("soft delete entity rows", err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.Read(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpsertByBlockID inserts or updates the entity row keyed to the
// reference's block id. Existing rows are diffed field by field; only
// changed columns are written.
func (s *entityRepo) UpsertByBlockID(ctx context.Context, ref block.NormalizedReference) (engine.Entity, error) {
	objectType := engine.ObjectType(ref.ObjectType)
	if err := validateEntityType(objectType); err != nil {
		return engine.Entity{}, err
	}
	if err := validateIdentifier("block_id", ref.BlockID); err != nil {
		return engine.Entity{}, err
	}

	fields := entityFieldsFromReference(ref)
	existing, err := s.FindByBlockID(ctx, ref.BlockID)
	if err != nil {
		return engine.Entity{}, err
	}
	if existing == nil {
		id, err := s.Insert(ctx, engine.Entity{
			ObjectType:  objectType,
			BlockID:     ref.BlockID,
			Status:      engine.StatusActive,
			OwnerID:     fields.ownerID,
			Content:     fields.content,
			Answers:     fields.answers,
			Explanation: fields.explanation,
		})
		if err != nil {
			return engine.Entity{}, err
		}
		return s.Read(ctx, id)
	}

	patch := engine.EntityPatch{
		Content:     &fields.content,
		Answers:     &fields.answers,
		Explanation: &fields.explanation,
	}
	if fields.ownerProvided {
		patch.OwnerID = &fields.ownerID
	}
	if _, err := s.Update(ctx, existing.ID, patch); err != nil {
		return engine.Entity{}, err
	}
	return s.Read(ctx, existing.ID)
}

func (s *entityRepo) FindByBlockID(ctx context.Context, blockID string) (*engine.Entity, error) {
	if err := validateIdentifier("block_id", blockID); err != nil {
		return nil, err
	}
	e, err := scanEntity(s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE block_id=$1 AND deleted_at IS NULL
	`, blockID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find entity by block_id", err)
	}
	return &e, nil
}

type entityFields struct {
	content       string
	answers       string
	explanation   string
	ownerID       int64
	ownerProvided bool
}

// entityFieldsFromReference maps block attributes onto entity columns.
// The block is the source of truth for content fields; owner is only
// taken when the attribute is present so re-propagation cannot clear it.
func entityFieldsFromReference(ref block.NormalizedReference) entityFields {
	n := block.Node{Attrs: ref.Attrs}
	fields := entityFields{
		content:     block.AttrString(n, "content"),
		explanation: block.AttrString(n, "explanation"),
	}
	if answers, ok := ref.Attrs["answers"]; ok && answers != nil {
		if encoded, err := json.Marshal(answers); err == nil {
			fields.answers = string(encoded)
		}
	}
	if _, ok := ref.Attrs["owner_id"]; ok {
		fields.ownerID = block.AttrInt64(n, "owner_id")
		fields.ownerProvided = true
	}
	return fields
}
