package embedder

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Provider generates embeddings for batches of texts. The EmbeddingID keys
// the content cache, so two providers (or two models of one provider) never
// share vectors; MaxChunkSize bounds the chunker's per-chunk budget.
type Provider interface {
	// Embed generates one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbeddingID uniquely identifies the provider+model combination.
	EmbeddingID() string

	// MaxChunkSize is the largest chunk, in characters, the model accepts.
	MaxChunkSize() int

	// Dimensions returns the embedding vector width.
	Dimensions() int

	// Close releases any resources held by the provider.
	Close() error
}

// Cache provides in-memory LRU caching of vectors keyed by
// (embeddingID, contentHash).
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{
		cache: cache,
	}
}

func cacheKey(embeddingID, hash string) string {
	return embeddingID + "\x00" + hash
}

// Get retrieves a deep copy of a cached vector
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(embeddingID, hash string) ([]float32, bool) {
	vector, ok := c.cache.Get(cacheKey(embeddingID, hash))
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(vector))
	copy(vectorCopy, vector)
	return vectorCopy, true
}

// Set stores a vector in cache with automatic LRU eviction
func (c *Cache) Set(embeddingID, hash string, vector []float32) {
	c.cache.Add(cacheKey(embeddingID, hash), vector)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes the hex SHA-256 hash of text for caching
func ComputeHash(text string) string {
	return types.HashContent([]byte(text))
}

// ValidateBatch validates a batch of texts before embedding
func ValidateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}
