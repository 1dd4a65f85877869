// Package block defines the tree model the editor hands to the engine
// and the flattened reference form the propagation engine consumes.
package block

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Type string

const (
	TypeNote      Type = "note"
	TypeCard      Type = "card"
	TypeInserter  Type = "inserter"
	TypeSlot      Type = "slot"
	TypeContainer Type = "container"
	TypeOther     Type = "other"
)

// Attribute keys shared across the transform, merge, and propagation code.
const (
	AttrCardBlockID = "card_block_id"
	AttrNoteBlockID = "note_block_id"
	AttrObjectID    = "object_id"
)

// Node is a single block in a document's content tree. BlockID is assigned
// once by the authoring surface and is stable across edits of the same
// logical block; a fresh BlockID always denotes a new logical block.
type Node struct {
	BlockID    string         `json:"blockId"`
	Type       Type           `json:"type"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Children   []Node         `json:"children,omitempty"`
	RawContent string         `json:"rawContent,omitempty"`
}

// DecodeTree parses the JSON array of top-level blocks supplied by the
// document store's save hook.
func DecodeTree(data []byte) ([]Node, error) {
	var tree []Node
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode block tree: %w", err)
	}
	return tree, nil
}

// CanonicalID is the identity the merger matches blocks under. A reference
// block aliases its origin block, so an inserter and the authored block it
// points at share one canonical id.
func CanonicalID(n Node) string {
	if id := AttrString(n, AttrCardBlockID); id != "" {
		return id
	}
	if id := AttrString(n, AttrNoteBlockID); id != "" {
		return id
	}
	return n.BlockID
}

// AttrString returns the string value of an attribute, or "" when absent
// or not a string.
func AttrString(n Node, key string) string {
	if n.Attrs == nil {
		return ""
	}
	s, _ := n.Attrs[key].(string)
	return s
}

// AttrInt64 coerces an attribute to int64. JSON decoding yields float64
// for numbers, so both numeric forms and digit strings are accepted.
func AttrInt64(n Node, key string) int64 {
	if n.Attrs == nil {
		return 0
	}
	switch v := n.Attrs[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// AttrBool returns the boolean value of an attribute, false when absent.
func AttrBool(n Node, key string) bool {
	if n.Attrs == nil {
		return false
	}
	b, _ := n.Attrs[key].(bool)
	return b
}
