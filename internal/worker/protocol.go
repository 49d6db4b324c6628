package worker

import (
	"encoding/json"
	"time"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// RequestType identifies the operation a request envelope carries.
type RequestType string

const (
	RequestInit                  RequestType = "init"
	RequestIndexWorkspace        RequestType = "indexWorkspace"
	RequestCancelIndexing        RequestType = "cancelIndexing"
	RequestRetrieve              RequestType = "retrieve"
	RequestOnFilesChanged        RequestType = "onFilesChanged"
	RequestDeleteIndex           RequestType = "deleteIndex"
	RequestGetIndexStatus        RequestType = "getIndexStatus"
	RequestGetIndexStats         RequestType = "getIndexStats"
	RequestGetDetailedStats      RequestType = "getDetailedStats"
	RequestHasIndex              RequestType = "hasIndex"
	RequestSetEmbeddingsProvider RequestType = "setEmbeddingsProvider"
	RequestDispose               RequestType = "dispose"
)

// Response envelope types. Progress responses are broadcast and never match
// a pending request.
const (
	ResponseSuccess               = "success"
	ResponseError                 = "error"
	ResponseProgress              = "progress"
	ResponseModelDownloadProgress = "modelDownloadProgress"
)

// Call timeouts. Indexing and initialization can legitimately run for a
// long time (model downloads, cold full scans); everything else is quick.
const (
	ShortCallTimeout = 30 * time.Second
	LongCallTimeout  = 30 * time.Minute
)

// timeoutFor selects the deadline class for a request type.
func timeoutFor(reqType RequestType) time.Duration {
	switch reqType {
	case RequestInit, RequestIndexWorkspace, RequestOnFilesChanged:
		return LongCallTimeout
	default:
		return ShortCallTimeout
	}
}

// RequestEnvelope is one JSON line on the worker's stdin.
type RequestEnvelope struct {
	ID   string          `json:"id"`
	Type RequestType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload carries a taxonomy code across the process boundary.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResponseEnvelope is one JSON line on the worker's stdout. Progress
// envelopes carry no ID.
type ResponseEnvelope struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

// Request payloads

// InitRequest configures the worker's pipeline on startup.
type InitRequest struct {
	DBPath      string `json:"db_path"`
	SnapshotDir string `json:"snapshot_dir"`
	Provider    string `json:"provider,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	Host        string `json:"host,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

// WorkspaceRequest addresses an operation to one workspace.
type WorkspaceRequest struct {
	Workspace string `json:"workspace"`
}

// RetrieveRequest runs a similarity query.
type RetrieveRequest struct {
	Workspace string `json:"workspace"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
}

// FilesChangedRequest feeds watcher events into a targeted refresh.
type FilesChangedRequest struct {
	Workspace string   `json:"workspace"`
	Paths     []string `json:"paths"`
}

// SetProviderRequest swaps the embedding provider at runtime.
type SetProviderRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	Host     string `json:"host,omitempty"`
}

// Response payloads

// HasIndexResponse wraps a boolean so the payload stays a JSON object.
type HasIndexResponse struct {
	HasIndex bool `json:"has_index"`
}

// CancelResponse reports whether a running task was found to cancel.
type CancelResponse struct {
	WasRunning bool `json:"was_running"`
}

// RetrieveResponse carries ranked hits.
type RetrieveResponse struct {
	Results []types.RetrievalResult `json:"results"`
}

// errorPayloadFor normalizes an error into a wire payload.
func errorPayloadFor(err error) *ErrorPayload {
	ie := types.Classify(err)
	return &ErrorPayload{Code: int(ie.Code), Message: ie.Error()}
}

// errorFromPayload reconstructs a typed error on the host side.
func errorFromPayload(p *ErrorPayload) error {
	if p == nil {
		return nil
	}
	return types.NewIndexError(types.ErrorCode(p.Code), p.Message)
}
