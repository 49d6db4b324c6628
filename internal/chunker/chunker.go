package chunker

import (
	"fmt"
	"strings"

	"github.com/dshills/semindex-mcp/pkg/types"
)

const (
	// DefaultMaxChunkSize is the per-chunk character budget used when the
	// embedding provider does not declare one.
	DefaultMaxChunkSize = 4000

	// OverlapLines is how many trailing lines of one chunk repeat at the
	// start of the next, so statements split across a boundary still embed
	// with context.
	OverlapLines = 3
)

// Chunker splits file content into bounded chunks sized to an embedding
// model's input limit.
type Chunker struct {
	maxChunkSize int
}

// New creates a Chunker with the given per-chunk character budget.
// Non-positive values fall back to DefaultMaxChunkSize.
func New(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{maxChunkSize: maxChunkSize}
}

// MaxChunkSize returns the configured per-chunk budget.
func (c *Chunker) MaxChunkSize() int {
	return c.maxChunkSize
}

// ChunkContent splits content into line-aligned chunks no larger than the
// budget. Single lines longer than the budget are hard-split. Every chunk
// carries the file's content hash plus its own chunk hash.
func (c *Chunker) ChunkContent(path, contentHash, content string) ([]*types.Chunk, error) {
	if path == "" {
		return nil, fmt.Errorf("chunker: path is required")
	}
	if content == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	chunks := make([]*types.Chunk, 0, len(content)/c.maxChunkSize+1)

	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			lineLen := len(lines[end]) + 1
			if size > 0 && size+lineLen > c.maxChunkSize {
				break
			}
			size += lineLen
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		if len(text) > c.maxChunkSize {
			// A single oversized line: hard-split it
			for off := 0; off < len(text); off += c.maxChunkSize {
				limit := off + c.maxChunkSize
				if limit > len(text) {
					limit = len(text)
				}
				chunks = append(chunks, c.newChunk(path, contentHash, text[off:limit], start+1, end))
			}
		} else if strings.TrimSpace(text) != "" {
			chunks = append(chunks, c.newChunk(path, contentHash, text, start+1, end))
		}

		if end >= len(lines) {
			break
		}
		// Overlap a few lines into the next chunk for boundary context
		next := end - OverlapLines
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

func (c *Chunker) newChunk(path, contentHash, content string, startLine, endLine int) *types.Chunk {
	chunk := &types.Chunk{
		Path:        path,
		ContentHash: contentHash,
		Content:     content,
		StartLine:   startLine,
		EndLine:     endLine,
	}
	chunk.ComputeChunkHash()
	chunk.ComputeTokenCount()
	return chunk
}
