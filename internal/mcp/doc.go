// Package mcp implements the Model Context Protocol (MCP) server for the
// semantic index.
//
// The MCP server exposes four tools to AI coding assistants:
//   - index_workspace: Build or refresh the semantic index for a workspace
//   - retrieve_code: Retrieve relevant code chunks for a query
//   - get_index_status: Check indexing state and statistics
//   - delete_index: Remove a workspace's index and snapshot
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout is reserved for protocol messages; all logging goes to stderr.
//
// # Tool: index_workspace
//
//	Request:
//	{
//	  "name": "index_workspace",
//	  "arguments": {"workspace": "/path/to/project"}
//	}
//
//	Response:
//	{
//	  "cancelled": false,
//	  "computed": 42,
//	  "deleted": 0,
//	  "tagged": 3,
//	  "root_hash": "9f2c...",
//	  "duration_ms": 1840
//	}
//
// # Tool: retrieve_code
//
//	Request:
//	{
//	  "name": "retrieve_code",
//	  "arguments": {
//	    "workspace": "/path/to/project",
//	    "query": "user authentication logic",
//	    "top_k": 10
//	  }
//	}
//
//	Response:
//	{
//	  "query": "user authentication logic",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "relevance_score": 0.92,
//	      "path": "internal/auth/service.go",
//	      "start_line": 45,
//	      "end_line": 72,
//	      "content": "func AuthenticateUser(...) { ... }"
//	    }
//	  ]
//	}
//
// # Tool: get_index_status
//
//	Request:
//	{
//	  "name": "get_index_status",
//	  "arguments": {"workspace": "/path/to/project"}
//	}
//
//	Response:
//	{
//	  "workspace": "/path/to/project",
//	  "state": "idle",
//	  "enabled": true,
//	  "indexed": true,
//	  "statistics": {
//	    "files": 247,
//	    "chunks": 1893,
//	    "distinct_hashes": 241,
//	    "tags": 1,
//	    "index_size_mb": "12.40"
//	  }
//	}
//
// # Error Handling
//
// Tool failures are returned as standard JSON-RPC error responses:
//
//	{
//	  "error": {
//	    "code": -32602,
//	    "message": "Invalid params",
//	    "data": {"param": "workspace", "reason": "workspace does not exist"}
//	  }
//	}
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error
//   - -32001: Workspace not found
//   - -32002: Indexing already in progress
//   - -32003: Workspace not indexed
//   - -32004: Empty query
package mcp
