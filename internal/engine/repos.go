package engine

import (
	"context"
	"time"

	"flashnotes/engine/internal/block"
)

// ObjectType classifies what a usage or entity row refers to. Entities
// are cards or notes; usage rows additionally track inserter references.
type ObjectType string

const (
	ObjectCard     ObjectType = "card"
	ObjectNote     ObjectType = "note"
	ObjectInserter ObjectType = "inserter"
)

type Status string

const (
	StatusActive Status = "active"
	StatusOrphan Status = "orphan"
)

// Entity is a card or note extracted from an authored block. Exactly one
// row exists per BlockID; edits to the authoring block update the same
// row. The review-scheduling fields are persisted but never computed
// here.
type Entity struct {
	ID          int64
	ObjectType  ObjectType
	BlockID     string
	Status      Status
	OwnerID     int64
	Content     string
	Answers     string // JSON-encoded right answers, cards only
	Explanation string // cards only
	NextDue     *time.Time
	EaseFactor  *float64
	Streak      *int
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntityPatch carries the fields an update supplies. Nil means "not
// provided"; change detection compares provided values against the
// stored row and only differing columns are written.
type EntityPatch struct {
	Status      *Status
	OwnerID     *int64
	Content     *string
	Answers     *string
	Explanation *string
	NextDue     *time.Time
	EaseFactor  *float64
	Streak      *int
}

// Collection is a named grouping of entities bound 1:1 to a derived set
// document. OriginDocumentID is empty when the set has no distinct
// source document.
type Collection struct {
	ID               int64
	Title            string
	OriginDocumentID string
	SetDocumentID    string
	OwnerID          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Usage records that an entity is referenced at a specific block within
// a specific document. Distinct from membership: usage exists for
// lifecycle and placement tracking, membership for logical grouping.
type Usage struct {
	ObjectType ObjectType
	ObjectID   int64
	DocumentID string
	BlockID    string
}

// SyncResult reports what a set-reconciliation changed.
type SyncResult struct {
	Added   int
	Removed int
	Kept    int
}

type EntityRepository interface {
	Insert(ctx context.Context, e Entity) (int64, error)
	Read(ctx context.Context, id int64) (Entity, error)
	Update(ctx context.Context, id int64, patch EntityPatch) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	SoftDelete(ctx context.Context, id int64) (bool, error)
	UpsertByBlockID(ctx context.Context, ref block.NormalizedReference) (Entity, error)
	FindByBlockID(ctx context.Context, blockID string) (*Entity, error)
}

type CollectionRepository interface {
	FindBySetDocumentID(ctx context.Context, setDocumentID string) (*Collection, error)
	Insert(ctx context.Context, c Collection) (int64, error)
	UpdateTitle(ctx context.Context, id int64, title string) (bool, error)
}

// MembershipRepository tracks the (entity_id, collection_id) relation.
// Attach is insert-if-absent and idempotent; Detach reports whether a
// row was actually deleted.
type MembershipRepository interface {
	Attach(ctx context.Context, entityID, collectionID int64) error
	Detach(ctx context.Context, entityID, collectionID int64) (bool, error)
	Exists(ctx context.Context, entityID, collectionID int64) (bool, error)
	ListEntityIDs(ctx context.Context, collectionID int64, objectType ObjectType) ([]int64, error)
	ListCollectionIDs(ctx context.Context, entityID int64) ([]int64, error)
	Sync(ctx context.Context, collectionID int64, objectType ObjectType, desired []int64) (SyncResult, error)
	Clear(ctx context.Context, collectionID int64) (int, error)
}

// UsageRepository tracks the (object_type, object_id, document_id,
// block_id) relation with the same attach/detach/sync contract shape.
type UsageRepository interface {
	Attach(ctx context.Context, u Usage) error
	Detach(ctx context.Context, u Usage) (bool, error)
	Exists(ctx context.Context, u Usage) (bool, error)
	ListByDocument(ctx context.Context, documentID string, objectType ObjectType) ([]Usage, error)
	ListByObject(ctx context.Context, objectType ObjectType, objectID int64) ([]Usage, error)
	CountByBlockID(ctx context.Context, blockID string) (int, error)
	Sync(ctx context.Context, documentID string, desired []Usage) (SyncResult, error)
	Clear(ctx context.Context, documentID string) (int, error)
}
