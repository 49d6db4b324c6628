package types

import "time"

// IndexState is the lifecycle state of one workspace's indexing task.
type IndexState string

const (
	StateIdle      IndexState = "idle"
	StateRunning   IndexState = "running"
	StateCompleted IndexState = "completed"
	StateCancelled IndexState = "cancelled"
	StateFailed    IndexState = "failed"
)

// IndexStatus describes the current condition of a workspace's index.
type IndexStatus struct {
	Workspace     string     `json:"workspace"`
	State         IndexState `json:"state"`
	Enabled       bool       `json:"enabled"`
	HasIndex      bool       `json:"has_index"`
	LastError     string     `json:"last_error,omitempty"`
	LastIndexedAt time.Time  `json:"last_indexed_at,omitzero"`
}

// IndexStats summarizes the size of a workspace's index.
type IndexStats struct {
	Files          int     `json:"files"`
	Chunks         int     `json:"chunks"`
	DistinctHashes int     `json:"distinct_hashes"`
	Tags           int     `json:"tags"`
	IndexSizeMB    float64 `json:"index_size_mb"`
}

// TagStats breaks an index down per tag namespace.
type TagStats struct {
	Tag    IndexTag `json:"tag"`
	Files  int      `json:"files"`
	Chunks int      `json:"chunks"`
}

// DetailedStats extends IndexStats with a per-tag breakdown.
type DetailedStats struct {
	IndexStats
	PerTag []TagStats `json:"per_tag"`
}

// IndexResult is the outcome of one indexing run. Cancelled is a distinct
// successful resolution, not a failure.
type IndexResult struct {
	Cancelled bool          `json:"cancelled"`
	Computed  int           `json:"computed"`
	Deleted   int           `json:"deleted"`
	Tagged    int           `json:"tagged"`
	RootHash  string        `json:"root_hash"`
	Duration  time.Duration `json:"duration"`
}

// Progress reports incremental scan or embedding progress for a workspace.
type Progress struct {
	Workspace      string `json:"workspace"`
	Phase          string `json:"phase"`
	Processed      int    `json:"processed"`
	EstimatedTotal int    `json:"estimated_total"`
}

// ModelDownloadProgress reports embedding model download progress.
type ModelDownloadProgress struct {
	ModelID         string  `json:"model_id"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	BytesTotal      int64   `json:"bytes_total"`
	Percent         float64 `json:"percent"`
}
