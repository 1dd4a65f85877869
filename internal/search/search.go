package search

import (
	"strconv"

	"flashnotes/engine/internal/engine"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          int64  `json:"id"`
	ObjectType  string `json:"objectType"`
	BlockID     string `json:"blockId"`
	Content     string `json:"content"`
	Explanation string `json:"explanation,omitempty"`
	Snippet     string `json:"snippet"`
	Status      string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    engine.ObjectType // empty = cards and notes
	FilterOwnerID int64             // 0 = all owners
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EntityRecord is the data we index for a card or note.
type EntityRecord struct {
	ID          int64  `json:"id"`
	ObjectType  string `json:"objectType"`
	BlockID     string `json:"blockId"`
	OwnerID     int64  `json:"ownerId"`
	Content     string `json:"content"`
	Explanation string `json:"explanation"`
	Status      string `json:"status"`
}

// RecordFromEntity maps an entity row to its index record.
func RecordFromEntity(e engine.Entity) EntityRecord {
	return EntityRecord{
		ID:          e.ID,
		ObjectType:  string(e.ObjectType),
		BlockID:     e.BlockID,
		OwnerID:     e.OwnerID,
		Content:     e.Content,
		Explanation: e.Explanation,
		Status:      string(e.Status),
	}
}

func recordKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
