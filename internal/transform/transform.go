// Package transform converts authoring-context blocks into the reference
// blocks a collection document carries. A card authored inside the set
// editor becomes an inserter pointing back at the card's block id, so the
// reference's own identity stays decoupled from the card's.
package transform

import (
	"flashnotes/engine/internal/block"
	"flashnotes/engine/internal/util"
)

// AttrOriginContext tags a block as having been authored in the
// reference/origin surface. The pipeline strips it after transforming.
const AttrOriginContext = "originContext"

// Strategy transforms one kind of block. Strategies are tried in order
// and the first supporting one wins; no two strategies should claim the
// same block type.
type Strategy interface {
	Supports(n block.Node) bool
	Transform(n block.Node) block.Node
}

type Pipeline struct {
	strategies []Strategy
}

// NewPipeline returns the default chain: cards first, then notes.
func NewPipeline() *Pipeline {
	return &Pipeline{strategies: []Strategy{CardStrategy{}, NoteStrategy{}}}
}

// Apply visits the top-level nodes of a tree. Nodes tagged with the
// origin-context attribute are replaced by the output of the first
// supporting strategy, with the tag stripped. Untagged nodes and tagged
// nodes no strategy supports pass through unchanged.
func (p *Pipeline) Apply(tree []block.Node) []block.Node {
	out := make([]block.Node, 0, len(tree))
	for _, n := range tree {
		if !block.AttrBool(n, AttrOriginContext) {
			out = append(out, n)
			continue
		}
		transformed := false
		for _, s := range p.strategies {
			if s.Supports(n) {
				n = s.Transform(n)
				transformed = true
				break
			}
		}
		if transformed {
			n = stripOriginTag(n)
		}
		out = append(out, n)
	}
	return out
}

func stripOriginTag(n block.Node) block.Node {
	if n.Attrs == nil {
		return n
	}
	attrs := make(map[string]any, len(n.Attrs))
	for k, v := range n.Attrs {
		if k == AttrOriginContext {
			continue
		}
		attrs[k] = v
	}
	n.Attrs = attrs
	return n
}

// CardStrategy turns an authored card into a transcluded reference.
type CardStrategy struct{}

func (CardStrategy) Supports(n block.Node) bool { return n.Type == block.TypeCard }

func (CardStrategy) Transform(n block.Node) block.Node {
	return newReference(block.AttrCardBlockID, n.BlockID)
}

// NoteStrategy turns an authored note into a transcluded reference.
type NoteStrategy struct{}

func (NoteStrategy) Supports(n block.Node) bool { return n.Type == block.TypeNote }

func (NoteStrategy) Transform(n block.Node) block.Node {
	return newReference(block.AttrNoteBlockID, n.BlockID)
}

func newReference(aliasAttr, originBlockID string) block.Node {
	return block.Node{
		BlockID: util.NewID("blk"),
		Type:    block.TypeInserter,
		Attrs: map[string]any{
			aliasAttr:          originBlockID,
			block.AttrObjectID: nil,
		},
	}
}
