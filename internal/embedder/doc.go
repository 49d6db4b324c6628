// Package embedder abstracts embedding generation behind a Provider
// interface.
//
// A Provider turns batches of texts into vectors and publishes three
// identity facts the rest of the pipeline depends on: EmbeddingID (keys the
// content cache so switching models never reuses stale vectors),
// MaxChunkSize (bounds the chunker's per-chunk budget) and Dimensions.
//
// # Providers
//
//   - openai: the OpenAI embeddings API (needs OPENAI_API_KEY)
//   - ollama: a local Ollama server (OLLAMA_HOST, default localhost:11434)
//   - local: deterministic hash-derived vectors, no model required
//
// Selection comes from SEMINDEX_EMBEDDING_PROVIDER, falling back to
// auto-detection and finally the local provider:
//
//	provider, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vectors, err := provider.Embed(ctx, texts)
//
// # Caching and Retry
//
// Providers share an LRU cache keyed by (embeddingID, contentHash); repeated
// texts are served from memory. Remote calls retry with exponential backoff,
// skipping retries once the context is cancelled.
package embedder
