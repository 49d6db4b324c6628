package treebuilder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/semindex-mcp/internal/changetree"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// ProgressFunc reports scan progress as (scanned, estimatedTotal).
type ProgressFunc func(scanned, estimatedTotal int)

// ScanResult summarizes the tree mutations one scan produced.
type ScanResult struct {
	Changes []types.ChangeEvent
	Scanned int
	Skipped int
}

// candidate is a file whose stat differed from the tree and whose content
// still needs hashing.
type candidate struct {
	rel  string
	abs  string
	stat os.FileInfo
}

// Build performs a full recursive scan and returns a fresh ChangeTree.
func (b *Builder) Build(ctx context.Context) (*changetree.ChangeTree, error) {
	tree := changetree.New()
	if _, err := b.FullScan(ctx, tree, nil); err != nil {
		return nil, err
	}
	return tree, nil
}

// FullScan reconciles the entire filesystem against the existing tree. Used
// after a watcher may have missed events, e.g. the process was offline.
//
// The traversal is a queue-based breadth-first walk that yields to the
// scheduler every batch of files and reports progress, bounding worst-case
// responsiveness impact on very large workspaces at the cost of total scan
// latency.
func (b *Builder) FullScan(ctx context.Context, tree *changetree.ChangeTree, onProgress ProgressFunc) (*ScanResult, error) {
	return b.scan(ctx, tree, []string{""}, onProgress)
}

// ScanDirectories rescans only the given workspace-relative subdirectories,
// for efficient partial refresh. Files outside those subtrees are left
// untouched.
func (b *Builder) ScanDirectories(ctx context.Context, tree *changetree.ChangeTree, dirs []string) (*ScanResult, error) {
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		dir = strings.Trim(filepath.ToSlash(dir), "/")
		roots = append(roots, dir)
	}
	return b.scan(ctx, tree, roots, nil)
}

// Update re-stats only the given workspace-relative paths and applies them to
// the tree. A vanished path is treated as a deletion.
func (b *Builder) Update(ctx context.Context, tree *changetree.ChangeTree, changedPaths []string) (*ScanResult, error) {
	result := &ScanResult{}

	for _, rel := range changedPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel = strings.Trim(filepath.ToSlash(rel), "/")
		if rel == "" {
			continue
		}
		abs := filepath.Join(b.workspacePath, filepath.FromSlash(rel))

		info, err := os.Stat(abs)
		if err != nil {
			// Vanished or unreadable: treat as a deletion
			result.Changes = append(result.Changes, deleteSubtree(tree, rel)...)
			continue
		}
		if info.IsDir() {
			sub, err := b.ScanDirectories(ctx, tree, []string{rel})
			if err != nil {
				return nil, err
			}
			result.Changes = append(result.Changes, sub.Changes...)
			result.Scanned += sub.Scanned
			continue
		}
		if !b.includeFile(rel, info.Size()) {
			// No longer eligible (e.g. grew past the size cutoff)
			if kind := tree.DeleteNode(rel); kind == types.ChangeDeleted {
				result.Changes = append(result.Changes, types.ChangeEvent{Path: rel, Kind: kind})
			}
			result.Skipped++
			continue
		}


		result.Scanned++
		node := tree.GetNode(rel)
		if node != nil && !node.IsDir() && node.MTime == info.ModTime().UnixNano() && node.Size == info.Size() {
			continue
		}

		hash, err := hashFile(abs)
		if err != nil {
			// Disappeared or unreadable mid-update: treat as absent
			if kind := tree.DeleteNode(rel); kind == types.ChangeDeleted {
				result.Changes = append(result.Changes, types.ChangeEvent{Path: rel, Kind: kind})
			}
			continue
		}

		kind := tree.UpsertFile(changetree.FileStat{
			Path:        rel,
			MTime:       info.ModTime(),
			Size:        info.Size(),
			ContentHash: hash,
		})
		if kind != types.ChangeUnchanged {
			result.Changes = append(result.Changes, types.ChangeEvent{Path: rel, Kind: kind})
		}
	}

	return result, nil
}

// scan walks the given roots breadth-first, stats every eligible file,
// hashes changed candidates concurrently, applies the results to the tree,
// and finally reconciles deletions within the scanned subtrees.
func (b *Builder) scan(ctx context.Context, tree *changetree.ChangeTree, roots []string, onProgress ProgressFunc) (*ScanResult, error) {
	result := &ScanResult{}
	seen := map[string]bool{}
	var candidates []candidate

	// The previous tree size is the best total estimate available before the
	// walk finishes.
	estimated := tree.Len()

	queue := append([]string(nil), roots...)
	sinceYield := 0

	for len(queue) > 0 {
		rel := queue[0]
		queue = queue[1:]

		abs := b.workspacePath
		if rel != "" {
			abs = filepath.Join(b.workspacePath, filepath.FromSlash(rel))
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			// Unreadable or vanished directories are skipped, not fatal
			result.Skipped++
			continue
		}

		for _, entry := range entries {
			childRel := entry.Name()
			if rel != "" {
				childRel = rel + "/" + entry.Name()
			}

			if entry.IsDir() {
				if b.includeDir(childRel, entry.Name()) {
					queue = append(queue, childRel)
				}
				continue
			}

			info, err := entry.Info()
			if err != nil {
				result.Skipped++
				continue
			}
			if !b.includeFile(childRel, info.Size()) {
				result.Skipped++
				continue
			}

			seen[childRel] = true
			result.Scanned++
			sinceYield++

			node := tree.GetNode(childRel)
			if node == nil || node.IsDir() || node.MTime != info.ModTime().UnixNano() || node.Size != info.Size() {
				candidates = append(candidates, candidate{rel: childRel, abs: filepath.Join(abs, entry.Name()), stat: info})
			}

			if sinceYield >= b.batchSize {
				sinceYield = 0
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				runtime.Gosched()
				if onProgress != nil {
					onProgress(result.Scanned, maxInt(estimated, result.Scanned))
				}
			}
		}
	}

	hashes, err := b.hashCandidates(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		hash, ok := hashes[c.rel]
		if !ok {
			// Disappeared or unreadable between stat and read
			delete(seen, c.rel)
			result.Skipped++
			continue
		}
		kind := tree.UpsertFile(changetree.FileStat{
			Path:        c.rel,
			MTime:       c.stat.ModTime(),
			Size:        c.stat.Size(),
			ContentHash: hash,
		})
		if kind != types.ChangeUnchanged {
			result.Changes = append(result.Changes, types.ChangeEvent{Path: c.rel, Kind: kind})
		}
	}

	// Reconcile deletions: tracked files under the scanned roots that the
	// walk did not encounter are gone.
	for _, path := range tree.GetAllFilePaths() {
		if !underAny(path, roots) || seen[path] {
			continue
		}
		if kind := tree.DeleteNode(path); kind == types.ChangeDeleted {
			result.Changes = append(result.Changes, types.ChangeEvent{Path: path, Kind: kind})
		}
	}

	sort.Slice(result.Changes, func(i, j int) bool {
		return result.Changes[i].Path < result.Changes[j].Path
	})

	if onProgress != nil {
		onProgress(result.Scanned, result.Scanned)
	}
	return result, nil
}

// hashCandidates hashes changed files with bounded concurrency. Unreadable
// files are dropped from the result rather than failing the scan.
func (b *Builder) hashCandidates(ctx context.Context, candidates []candidate) (map[string]string, error) {
	hashes := make(map[string]string, len(candidates))
	if len(candidates) == 0 {
		return hashes, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, err := hashFile(c.abs)
			if err != nil {
				return nil // skipped, reconciled as absent by the caller
			}
			mu.Lock()
			hashes[c.rel] = hash
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// deleteSubtree removes rel from the tree. A vanished directory becomes one
// deletion event per tracked file beneath it, so downstream index updates see
// file paths rather than a directory path.
func deleteSubtree(tree *changetree.ChangeTree, rel string) []types.ChangeEvent {
	node := tree.GetNode(rel)
	if node == nil || !node.IsDir() {
		if kind := tree.DeleteNode(rel); kind == types.ChangeDeleted {
			return []types.ChangeEvent{{Path: rel, Kind: kind}}
		}
		return nil
	}

	var events []types.ChangeEvent
	for _, path := range tree.GetAllFilePaths() {
		if path != rel && !strings.HasPrefix(path, rel+"/") {
			continue
		}
		if kind := tree.DeleteNode(path); kind == types.ChangeDeleted {
			events = append(events, types.ChangeEvent{Path: path, Kind: kind})
		}
	}
	return events
}

// underAny reports whether path falls inside any of the scan roots. The ""
// root covers the whole workspace.
func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if root == "" || path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
