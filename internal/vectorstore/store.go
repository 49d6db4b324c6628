package vectorstore

import (
	"context"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// ChunkSource supplies the chunks for a changed file at index time. The
// store asks for chunks only when a (content hash, model) pair is not
// already cached.
type ChunkSource interface {
	ChunksFor(path, contentHash string) ([]*types.Chunk, error)
}

// ProgressFunc reports embedding progress during an update.
type ProgressFunc func(progress types.Progress)

// Store defines the interface for persisting and querying embedded chunks
type Store interface {
	// Classification
	HasContent(ctx context.Context, contentHash, modelID string) (bool, error)

	// Index maintenance
	Update(ctx context.Context, tag types.IndexTag, refresh *types.RefreshResult, source ChunkSource, onProgress ProgressFunc, cancel *types.CancelFlag) (cancelled bool, err error)
	DeleteIndex(ctx context.Context, tag types.IndexTag) error
	HasIndex(ctx context.Context, tag types.IndexTag) (bool, error)

	// Retrieval
	Retrieve(ctx context.Context, query string, topK int, tags []types.IndexTag) ([]types.RetrievalResult, error)

	// Stats
	GetIndexStats(ctx context.Context, tag types.IndexTag) (*types.IndexStats, error)
	GetDetailedStats(ctx context.Context) (*types.DetailedStats, error)

	Close() error
}
