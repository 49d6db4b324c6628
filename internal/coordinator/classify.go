package coordinator

import (
	"context"
	"fmt"

	"github.com/dshills/semindex-mcp/internal/changetree"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// classify buckets scan changes by the work they need. Added and modified
// files whose content hash is already cached for the embedding model only
// need a tag association; uncached ones need chunking and embedding.
// Deleted files need their tag rows removed.
func (c *Coordinator) classify(ctx context.Context, tree *changetree.ChangeTree, tag types.IndexTag, changes []types.ChangeEvent) (*types.RefreshResult, error) {
	refresh := &types.RefreshResult{}

	for _, change := range changes {
		switch change.Kind {
		case types.ChangeAdded, types.ChangeModified:
			node := tree.GetNode(change.Path)
			if node == nil {
				return nil, fmt.Errorf("changed path %s missing from tree", change.Path)
			}
			item := types.ContentChangeItem{Path: change.Path, ContentHash: node.Hash}

			cached, err := c.store.HasContent(ctx, node.Hash, tag.EmbeddingModelID)
			if err != nil {
				return nil, types.WrapError(types.CodeCacheFailed, "content cache lookup failed", err)
			}
			if cached {
				refresh.AddTag = append(refresh.AddTag, item)
			} else {
				refresh.Compute = append(refresh.Compute, item)
			}

		case types.ChangeDeleted:
			refresh.Delete = append(refresh.Delete, types.ContentChangeItem{Path: change.Path})

		case types.ChangeUnchanged, types.ChangeNotFound:
			// Nothing to do.
		}
	}

	return refresh, nil
}
