package types

import "time"

// ChangeKind describes the outcome of applying a filesystem observation to a
// change tree.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeNotFound  ChangeKind = "not_found"
)

// ChangeEvent pairs a workspace-relative path with the kind of change
// detected for it.
type ChangeEvent struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// PathStat is a caller-supplied observation of a path, typically sourced from
// a file watcher. Exists=false marks the path as vanished.
type PathStat struct {
	Path   string    `json:"path"`
	MTime  time.Time `json:"mtime"`
	Size   int64     `json:"size"`
	Exists bool      `json:"exists"`
}

// ContentChangeItem is the unit of work flowing through classification and
// chunking: a path plus the content hash it resolved to.
type ContentChangeItem struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

// RefreshResult is the output of change classification. Compute items need
// chunking and embedding; Delete items need their rows removed; AddTag items
// only need a tag association because their content is already embedded.
type RefreshResult struct {
	Compute []ContentChangeItem `json:"compute"`
	Delete  []ContentChangeItem `json:"delete"`
	AddTag  []ContentChangeItem `json:"add_tag"`
}

// Empty reports whether the refresh carries no work at all.
func (r *RefreshResult) Empty() bool {
	return len(r.Compute) == 0 && len(r.Delete) == 0 && len(r.AddTag) == 0
}

// Total returns the number of items across all three classes.
func (r *RefreshResult) Total() int {
	return len(r.Compute) + len(r.Delete) + len(r.AddTag)
}
