package types

import "strings"

// IndexTag identifies a logical index namespace: workspace directory, an
// optional VCS branch, and the embedding model the vectors were produced
// with. The same physical content may appear under multiple tags without
// recomputation.
type IndexTag struct {
	Directory        string `json:"directory"`
	Branch           string `json:"branch,omitempty"`
	EmbeddingModelID string `json:"embedding_model_id"`
}

// Key returns a stable string form usable as a map or database key.
func (t IndexTag) Key() string {
	return strings.Join([]string{t.Directory, t.Branch, t.EmbeddingModelID}, "\x1f")
}

// Validate checks that the tag's required fields are present.
func (t IndexTag) Validate() error {
	if t.Directory == "" {
		return NewIndexError(CodeWorkspaceNotFound, "tag directory is required")
	}
	if t.EmbeddingModelID == "" {
		return NewIndexError(CodeEmbeddingsProviderFailed, "tag embedding model id is required")
	}
	return nil
}
