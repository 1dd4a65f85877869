// Package engine propagates normalized block references into the
// entity store: it upserts cards and notes, reconciles collection
// membership and per-block usage, and applies orphan/revival lifecycle
// transitions. Every step is idempotent, so re-invoking a propagation
// with the same inputs is safe and convergent. The engine performs no
// locking of its own; callers serialize propagation per document.
package engine

import (
	"context"
	"log"

	"flashnotes/engine/internal/block"
)

type DocumentType string

const (
	DocumentOrigin     DocumentType = "origin"
	DocumentCollection DocumentType = "collection"
)

// Document identifies the document a propagation call is for, with the
// metadata collection binding needs. The content itself arrives already
// normalized.
type Document struct {
	ID               string
	Type             DocumentType
	Title            string
	OwnerID          int64
	OriginDocumentID string
}

// EntityIndexer receives entity lifecycle events for search indexing.
// Implementations are fire-and-forget; a nil indexer disables indexing.
type EntityIndexer interface {
	IndexEntity(e Entity)
	DeleteEntity(id int64)
}

type Engine struct {
	entities    EntityRepository
	collections CollectionRepository
	memberships MembershipRepository
	usages      UsageRepository
	index       EntityIndexer
}

func New(entities EntityRepository, collections CollectionRepository, memberships MembershipRepository, usages UsageRepository, index EntityIndexer) *Engine {
	return &Engine{
		entities:    entities,
		collections: collections,
		memberships: memberships,
		usages:      usages,
		index:       index,
	}
}

// usageKey identifies a usage row within one document. For inserter
// references the block id is the origin block's, not the inserter's own,
// so a transclusion keeps the origin entity's usage alive.
type usageKey struct {
	blockID    string
	objectType ObjectType
}

// Propagate reconciles the store with a document's current references:
// collection binding, per-reference upsert and attach, stale-usage
// removal, and the orphan rule. Validation and conflict failures on a
// single reference are logged and the remaining references processed;
// collection-binding and stale-scan failures abort the call, as does
// any store failure.
func (e *Engine) Propagate(ctx context.Context, doc Document, refs []block.NormalizedReference) error {
	if doc.ID == "" {
		return Validationf("document_id", "must not be empty")
	}

	var collectionID int64
	if doc.Type == DocumentCollection {
		id, err := e.bindCollection(ctx, doc)
		if err != nil {
			return err
		}
		collectionID = id
	}

	current := make(map[usageKey]bool, len(refs))
	for _, ref := range refs {
		key, err := e.applyReference(ctx, doc, collectionID, ref)
		if err != nil {
			if IsValidation(err) || IsConflict(err) || IsNotFound(err) {
				log.Printf("propagate: skipping reference %q in %s: %v", ref.BlockID, doc.ID, err)
				continue
			}
			return err
		}
		if key != (usageKey{}) {
			current[key] = true
		}
	}

	return e.removeStaleUsage(ctx, doc.ID, current)
}

// bindCollection resolves the collection row for a set document,
// creating it on first propagation and following title changes after.
func (e *Engine) bindCollection(ctx context.Context, doc Document) (int64, error) {
	existing, err := e.collections.FindBySetDocumentID(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return e.collections.Insert(ctx, Collection{
			Title:            doc.Title,
			OriginDocumentID: doc.OriginDocumentID,
			SetDocumentID:    doc.ID,
			OwnerID:          doc.OwnerID,
		})
	}
	if existing.Title != doc.Title {
		if _, err := e.collections.UpdateTitle(ctx, existing.ID, doc.Title); err != nil {
			return 0, err
		}
	}
	return existing.ID, nil
}

func (e *Engine) applyReference(ctx context.Context, doc Document, collectionID int64, ref block.NormalizedReference) (usageKey, error) {
	switch ref.ObjectType {
	case block.TypeCard, block.TypeNote:
		return e.applyEntityReference(ctx, doc, collectionID, ref)
	case block.TypeInserter:
		return e.applyInserterReference(ctx, doc, collectionID, ref)
	default:
		// Structural blocks reach here only when normalization ran
		// unfiltered; they carry nothing to propagate.
		return usageKey{}, nil
	}
}

func (e *Engine) applyEntityReference(ctx context.Context, doc Document, collectionID int64, ref block.NormalizedReference) (usageKey, error) {
	entity, err := e.entities.UpsertByBlockID(ctx, ref)
	if err != nil {
		return usageKey{}, err
	}

	// Re-adding a previously removed block revives its entity; the usage
	// row attached below would otherwise contradict the orphan status.
	if entity.Status == StatusOrphan {
		if err := e.reactivate(ctx, entity.ID); err != nil {
			return usageKey{}, err
		}
		entity.Status = StatusActive
	}

	objectType := ObjectType(ref.ObjectType)
	if collectionID != 0 {
		if err := e.memberships.Attach(ctx, entity.ID, collectionID); err != nil {
			return usageKey{}, err
		}
	}
	if err := e.usages.Attach(ctx, Usage{
		ObjectType: objectType,
		ObjectID:   entity.ID,
		DocumentID: doc.ID,
		BlockID:    ref.BlockID,
	}); err != nil {
		return usageKey{}, err
	}

	if e.index != nil {
		e.index.IndexEntity(entity)
	}
	return usageKey{blockID: ref.BlockID, objectType: objectType}, nil
}

func (e *Engine) applyInserterReference(ctx context.Context, doc Document, collectionID int64, ref block.NormalizedReference) (usageKey, error) {
	originBlockID := originBlockIDOf(ref)
	if originBlockID == "" {
		// An inserter without an origin alias cannot be tracked.
		return usageKey{}, nil
	}

	objectID := ref.ObjectID
	if objectID == 0 {
		entity, err := e.entities.FindByBlockID(ctx, originBlockID)
		if err != nil {
			return usageKey{}, err
		}
		if entity == nil {
			// Reference to an entity that has not been propagated yet;
			// a later propagation of the origin document resolves it.
			return usageKey{}, nil
		}
		objectID = entity.ID
	}

	// The usage row is keyed to the origin's block id so the reference
	// keeps the origin entity's usage count alive.
	if err := e.usages.Attach(ctx, Usage{
		ObjectType: ObjectInserter,
		ObjectID:   objectID,
		DocumentID: doc.ID,
		BlockID:    originBlockID,
	}); err != nil {
		return usageKey{}, err
	}
	if collectionID != 0 {
		if err := e.memberships.Attach(ctx, objectID, collectionID); err != nil {
			return usageKey{}, err
		}
	}

	if err := e.reactivate(ctx, objectID); err != nil {
		return usageKey{}, err
	}
	return usageKey{blockID: originBlockID, objectType: ObjectInserter}, nil
}

// reactivate flips an orphan entity back to active. Revival is
// unconditional: any propagated reference to an orphan revives it,
// regardless of remaining usage count.
func (e *Engine) reactivate(ctx context.Context, entityID int64) error {
	entity, err := e.entities.Read(ctx, entityID)
	if err != nil {
		return err
	}
	if entity.Status != StatusOrphan {
		return nil
	}
	status := StatusActive
	if _, err := e.entities.Update(ctx, entityID, EntityPatch{Status: &status}); err != nil {
		return err
	}
	if e.index != nil {
		entity.Status = StatusActive
		e.index.IndexEntity(entity)
	}
	return nil
}

// removeStaleUsage detaches every usage row of the document whose
// (block_id, object_type) pair is absent from the current reference
// set, then runs the orphan rule on each removed card/note row. This
// is what makes re-propagation self-correcting.
func (e *Engine) removeStaleUsage(ctx context.Context, documentID string, current map[usageKey]bool) error {
	existing, err := e.usages.ListByDocument(ctx, documentID, "")
	if err != nil {
		return err
	}
	for _, u := range existing {
		if current[usageKey{blockID: u.BlockID, objectType: u.ObjectType}] {
			continue
		}
		if _, err := e.usages.Detach(ctx, u); err != nil {
			return err
		}
		if u.ObjectType == ObjectInserter {
			// Removing a transclusion never orphans anything.
			continue
		}
		if err := e.orphanIfUnused(ctx, u.BlockID); err != nil {
			return err
		}
	}
	return nil
}

// orphanIfUnused marks the entity for a block orphan when no usage rows
// remain for that block id across any document or object type.
func (e *Engine) orphanIfUnused(ctx context.Context, blockID string) error {
	remaining, err := e.usages.CountByBlockID(ctx, blockID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	entity, err := e.entities.FindByBlockID(ctx, blockID)
	if err != nil {
		return err
	}
	if entity == nil || entity.Status == StatusOrphan {
		return nil
	}
	status := StatusOrphan
	if _, err := e.entities.Update(ctx, entity.ID, EntityPatch{Status: &status}); err != nil {
		return err
	}
	if e.index != nil {
		e.index.DeleteEntity(entity.ID)
	}
	return nil
}

func originBlockIDOf(ref block.NormalizedReference) string {
	n := block.Node{Attrs: ref.Attrs}
	if id := block.AttrString(n, block.AttrCardBlockID); id != "" {
		return id
	}
	return block.AttrString(n, block.AttrNoteBlockID)
}
