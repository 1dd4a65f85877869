// Package merge reconciles a collection document's existing tree with a
// freshly transformed tree derived from its origin document. The result
// is the tree persisted as the collection's new content: every origin
// block appears exactly once, collection-only blocks survive, nothing is
// duplicated.
package merge

import "flashnotes/engine/internal/block"

// Merge walks the collection tree in order, matching blocks against the
// origin tree under their canonical id. When a match exists the origin
// version wins. A new origin block directly following a matched one is
// inserted inline, so additions land near their logical predecessor;
// origin blocks with no counterpart anywhere are appended at the end in
// origin order. Children are merged recursively under the same rule.
func Merge(origin, collection []block.Node) []block.Node {
	index := make(map[string]int, len(origin))
	for i, n := range origin {
		id := block.CanonicalID(n)
		if _, seen := index[id]; !seen {
			index[id] = i
		}
	}

	inCollection := make(map[string]bool, len(collection))
	for _, n := range collection {
		inCollection[block.CanonicalID(n)] = true
	}

	emitted := make(map[string]bool, len(origin)+len(collection))
	out := make([]block.Node, 0, len(origin)+len(collection))

	for _, c := range collection {
		id := block.CanonicalID(c)
		if emitted[id] {
			continue
		}
		pos, matched := index[id]
		if !matched {
			out = append(out, c)
			emitted[id] = true
			continue
		}

		o := origin[pos]
		o.Children = Merge(origin[pos].Children, c.Children)
		out = append(out, o)
		emitted[id] = true

		// A block that is new in origin right after the match enters the
		// merged tree here, next to its logical predecessor. Blocks the
		// collection also carries are left for the walk to match instead,
		// so their collection-side children still get merged.
		if pos+1 < len(origin) {
			next := origin[pos+1]
			nextID := block.CanonicalID(next)
			if !emitted[nextID] && !inCollection[nextID] {
				out = append(out, next)
				emitted[nextID] = true
			}
		}
	}

	for _, o := range origin {
		id := block.CanonicalID(o)
		if emitted[id] {
			continue
		}
		out = append(out, o)
		emitted[id] = true
	}

	return out
}
