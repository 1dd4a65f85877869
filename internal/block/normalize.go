package block

// NormalizedReference is the flattened, propagation-ready form of a block.
// ObjectID is 0 until the referenced entity row has been resolved.
type NormalizedReference struct {
	ObjectType Type
	ObjectID   int64
	BlockID    string
	Attrs      map[string]any
}

// IsEntityType reports whether a block type maps to a stored entity.
func IsEntityType(t Type) bool {
	return t == TypeCard || t == TypeNote
}

func isRelevant(t Type) bool {
	return t == TypeCard || t == TypeNote || t == TypeInserter
}

// Normalize flattens a tree into the references the propagation engine
// consumes, visiting children depth-first in document order. Blocks
// without a BlockID cannot be tracked and are dropped. With knownOnly
// set, only card, note, and inserter blocks are kept; otherwise every
// identifiable block is included. Pure function of the tree.
func Normalize(tree []Node, knownOnly bool) []NormalizedReference {
	refs := make([]NormalizedReference, 0, len(tree))
	for _, n := range tree {
		refs = appendNormalized(refs, n, knownOnly)
	}
	return refs
}

func appendNormalized(refs []NormalizedReference, n Node, knownOnly bool) []NormalizedReference {
	if n.BlockID != "" && (!knownOnly || isRelevant(n.Type)) {
		refs = append(refs, NormalizedReference{
			ObjectType: n.Type,
			ObjectID:   AttrInt64(n, AttrObjectID),
			BlockID:    n.BlockID,
			Attrs:      n.Attrs,
		})
	}
	for _, child := range n.Children {
		refs = appendNormalized(refs, child, knownOnly)
	}
	return refs
}
