// Package workspace models the shared file tree for a project and the
// normalization of assistant-supplied trees into it.
package workspace

import "sort"

// Snapshot is the canonical shared file tree: path -> file content.
// A Snapshot never contains an entry without content; updates that carry
// no recognizable content for a path are dropped before they get here.
type Snapshot map[string]string

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for path, content := range s {
		out[path] = content
	}
	return out
}

// Merge returns a new snapshot with delta applied on top of s.
// New paths are added, overlapping paths are overwritten, untouched
// paths are retained. Neither input is mutated.
func (s Snapshot) Merge(delta Snapshot) Snapshot {
	out := make(Snapshot, len(s)+len(delta))
	for path, content := range s {
		out[path] = content
	}
	for path, content := range delta {
		out[path] = content
	}
	return out
}

// Paths returns the snapshot's file paths in sorted order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for path := range s {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
