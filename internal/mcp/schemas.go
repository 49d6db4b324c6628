package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexWorkspaceTool returns the tool definition for index_workspace
func indexWorkspaceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_workspace",
		Description: "Build or incrementally refresh the semantic index for a workspace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
			},
			Required: []string{"workspace"},
		},
	}
}

// retrieveCodeTool returns the tool definition for retrieve_code
func retrieveCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_code",
		Description: "Retrieve code chunks semantically relevant to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the indexed workspace",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or keyword query",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"workspace", "query"},
		},
	}
}

// getIndexStatusTool returns the tool definition for get_index_status
func getIndexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_index_status",
		Description: "Query indexing state and statistics for a workspace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
			},
			Required: []string{"workspace"},
		},
	}
}

// deleteIndexTool returns the tool definition for delete_index
func deleteIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_index",
		Description: "Delete the workspace's index data and change snapshot",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
			},
			Required: []string{"workspace"},
		},
	}
}
