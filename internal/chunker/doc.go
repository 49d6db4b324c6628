// Package chunker divides file content into bounded chunks for embedding.
//
// Chunks are line-aligned windows no larger than the embedding provider's
// input budget, with a few lines of overlap between consecutive chunks so
// constructs split at a boundary still embed with context. Each chunk
// carries both the whole file's content hash (the cache identity) and its
// own chunk hash.
//
// # Basic Usage
//
//	c := chunker.New(provider.MaxChunkSize())
//	chunks, err := c.ChunkContent(relPath, contentHash, string(content))
//	if err != nil {
//	    return err
//	}
//
// Token counts use a simple chars/4 heuristic; the budget itself
// is expressed in characters because that is what embedding providers
// publish.
package chunker
