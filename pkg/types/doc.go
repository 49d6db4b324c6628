// Package types provides shared type definitions for the SemIndex MCP server.
//
// This package defines domain types used across multiple components of
// SemIndex, including change classification, index tags, chunks, retrieval
// results, and the error taxonomy.
//
// # Core Types
//
// ContentChangeItem is the unit of work flowing through classification and
// chunking:
//
//	item := types.ContentChangeItem{
//	    Path:        "internal/auth/login.go",
//	    ContentHash: types.HashContent(content),
//	}
//
// RefreshResult is the output of change classification:
//
//	refresh := &types.RefreshResult{
//	    Compute: toEmbed,   // new content, needs chunking + embedding
//	    Delete:  removed,   // vanished paths, rows to drop
//	    AddTag:  reusable,  // content already embedded under another tag
//	}
//
// IndexTag identifies a logical index namespace (workspace x branch x model):
//
//	tag := types.IndexTag{
//	    Directory:        "/home/user/project",
//	    Branch:           "main",
//	    EmbeddingModelID: "nomic-embed-text",
//	}
//
// # Error Taxonomy
//
// Errors crossing component boundaries carry a closed numeric ErrorCode.
// Arbitrary errors are normalized via Classify rather than left opaque:
//
//	ie := types.Classify(err)
//	if types.Retryable(ie.Code) {
//	    // safe to retry automatically
//	}
//
// Recoverable codes (AlreadyIndexing, IndexNotFound, NoIndexAvailable) are
// user-facing statuses, not crashes.
//
// # Cooperative Cancellation
//
// CancelFlag is an advisory token observed by long-running loops at
// checkpoints:
//
//	flag := types.NewCancelFlag()
//	go func() { flag.Cancel() }()
//	if flag.IsCancellationRequested() {
//	    return &types.IndexResult{Cancelled: true}, nil
//	}
//
// Cancellation resolves, it never rejects: a cancelled run is a successful
// resolution distinct from failure.
package types
