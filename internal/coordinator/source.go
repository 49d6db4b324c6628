package coordinator

import (
	"os"
	"path/filepath"

	"github.com/dshills/semindex-mcp/internal/chunker"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// fileSource serves chunks by reading files from the workspace. The content
// hash is re-verified so a file modified between scan and embed is rejected
// rather than cached under a stale hash.
type fileSource struct {
	workspace string
	chunker   *chunker.Chunker
}

func (f *fileSource) ChunksFor(path, contentHash string) ([]*types.Chunk, error) {
	content, err := os.ReadFile(filepath.Join(f.workspace, filepath.FromSlash(path)))
	if err != nil {
		return nil, types.WrapError(types.CodeFileReadFailed, "failed to read file for chunking", err)
	}

	if got := types.HashContent(content); got != contentHash {
		return nil, types.NewIndexError(types.CodeFileReadFailed,
			"file changed during indexing: "+path)
	}

	return f.chunker.ChunkContent(path, contentHash, string(content))
}
