package store

// diffIDs computes the symmetric difference between the currently
// attached ids and the desired set. Duplicates in either input collapse.
func diffIDs(current, desired []int64) (added, removed []int64, kept int) {
	currentSet := make(map[int64]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}
	desiredSet := make(map[int64]bool, len(desired))
	for _, id := range desired {
		if desiredSet[id] {
			continue
		}
		desiredSet[id] = true
		if currentSet[id] {
			kept++
		} else {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if !desiredSet[id] {
			removed = append(removed, id)
			desiredSet[id] = true // collapse duplicates in current
		}
	}
	return added, removed, kept
}
