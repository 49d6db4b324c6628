package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeWorkspaceNotFound  = -32001 // Workspace path does not exist
	ErrorCodeIndexingInProgress = -32002 // Another indexing run is already active
	ErrorCodeNotIndexed         = -32003 // Workspace has no index
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexWorkspace handles the index_workspace tool invocation
func (s *Server) handleIndexWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, mcpErr := workspaceArg(request)
	if mcpErr != nil {
		return nil, mcpErr
	}

	result, err := s.pipeline.IndexWorkspace(ctx, workspace)
	if err != nil {
		return nil, pipelineError("indexing failed", err)
	}

	response := map[string]interface{}{
		"cancelled":   result.Cancelled,
		"computed":    result.Computed,
		"deleted":     result.Deleted,
		"tagged":      result.Tagged,
		"root_hash":   result.RootHash,
		"duration_ms": result.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRetrieveCode handles the retrieve_code tool invocation
func (s *Server) handleRetrieveCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, mcpErr := workspaceArg(request)
	if mcpErr != nil {
		return nil, mcpErr
	}

	args, _ := request.Params.Arguments.(map[string]interface{})
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 10)
	if topK < 1 || topK > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	results, err := s.pipeline.Retrieve(ctx, workspace, query, topK)
	if err != nil {
		return nil, pipelineError("retrieval failed", err)
	}

	hits := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		hits = append(hits, map[string]interface{}{
			"rank":            r.Rank,
			"relevance_score": r.RelevanceScore,
			"path":            r.Path,
			"start_line":      r.StartLine,
			"end_line":        r.EndLine,
			"content":         r.Content,
		})
	}
	response := map[string]interface{}{
		"query":   query,
		"results": hits,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetIndexStatus handles the get_index_status tool invocation
func (s *Server) handleGetIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, mcpErr := workspaceArg(request)
	if mcpErr != nil {
		return nil, mcpErr
	}

	status, err := s.pipeline.GetIndexStatus(ctx, workspace)
	if err != nil {
		return nil, pipelineError("failed to get status", err)
	}

	response := map[string]interface{}{
		"workspace": status.Workspace,
		"state":     string(status.State),
		"enabled":   status.Enabled,
		"indexed":   status.HasIndex,
	}
	if status.LastError != "" {
		response["last_error"] = status.LastError
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	if status.HasIndex {
		stats, err := s.pipeline.GetIndexStats(ctx, workspace)
		if err != nil {
			return nil, pipelineError("failed to get stats", err)
		}
		response["statistics"] = map[string]interface{}{
			"files":           stats.Files,
			"chunks":          stats.Chunks,
			"distinct_hashes": stats.DistinctHashes,
			"tags":            stats.Tags,
			"index_size_mb":   fmt.Sprintf("%.2f", stats.IndexSizeMB),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteIndex handles the delete_index tool invocation
func (s *Server) handleDeleteIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, mcpErr := workspaceArg(request)
	if mcpErr != nil {
		return nil, mcpErr
	}

	if err := s.pipeline.DeleteIndex(ctx, workspace); err != nil {
		return nil, pipelineError("failed to delete index", err)
	}

	response := map[string]interface{}{
		"deleted":   true,
		"workspace": workspace,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// workspaceArg extracts and validates the required workspace parameter.
func workspaceArg(request mcp.CallToolRequest) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	workspace, ok := args["workspace"].(string)
	if !ok || workspace == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "workspace parameter is required", map[string]interface{}{
			"param":  "workspace",
			"reason": "missing or empty",
		})
	}

	if err := validateWorkspace(workspace); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid workspace", map[string]interface{}{
			"param":  "workspace",
			"reason": err.Error(),
		})
	}
	return workspace, nil
}

// pipelineError translates taxonomy codes into MCP protocol errors.
func pipelineError(message string, err error) error {
	code := ErrorCodeInternalError
	switch types.CodeOf(err) {
	case types.CodeWorkspaceNotFound, types.CodeDirectoryNotFound:
		code = ErrorCodeWorkspaceNotFound
	case types.CodeAlreadyIndexing:
		code = ErrorCodeIndexingInProgress
	case types.CodeIndexNotFound, types.CodeNoIndexAvailable:
		code = ErrorCodeNotIndexed
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validateWorkspace checks that a workspace path is absolute, exists and is a
// readable directory.
func validateWorkspace(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("workspace must be an absolute path")
	ErrPathNotFound    = errors.New("workspace does not exist")
	ErrPathNotReadable = errors.New("workspace is not readable")
	ErrNotDirectory    = errors.New("workspace is not a directory")
)
