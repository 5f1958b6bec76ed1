package facts

// Archived returns the core items found in snapshots that are no longer in
// current. Snapshots are expected newest first; when an id appears in more
// than one snapshot the newest copy wins.
func Archived(current *Document, snapshots []*Document) []CoreItem {
	live := make(map[string]struct{})
	if current != nil {
		for _, it := range current.Core.Items {
			live[it.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var out []CoreItem
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		for _, it := range snap.Core.Items {
			if _, ok := live[it.ID]; ok {
				continue
			}
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}
