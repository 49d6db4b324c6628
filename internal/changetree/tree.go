package changetree

import (
	"sort"
	"time"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// FileStat carries the observation applied by UpsertFile. ContentHash may be
// empty when the caller has not read the file's bytes; a stat fingerprint is
// used in its place until a scan supplies the real hash.
type FileStat struct {
	Path        string
	MTime       time.Time
	Size        int64
	ContentHash string
}

// ChangeTree is a content-addressable hierarchy of a workspace's files.
// Directory hashes derive from their children, so structural change detection
// never re-hashes unaffected subtrees. Mutation is bottom-up: after any leaf
// change only the ancestor chain is recomputed, bounding update cost to path
// depth.
//
// ChangeTree is not safe for concurrent mutation; one indexing task owns a
// workspace's tree at a time.
type ChangeTree struct {
	root  *TreeNode
	index map[string]*TreeNode // path -> node, includes directories and the root
}

// New creates an empty ChangeTree.
func New() *ChangeTree {
	root := &TreeNode{
		Path:     "",
		Kind:     KindDirectory,
		Children: map[string]*TreeNode{},
	}
	root.Hash = root.computeDirHash()
	return &ChangeTree{
		root:  root,
		index: map[string]*TreeNode{"": root},
	}
}

// RootHash returns the current root hash.
func (t *ChangeTree) RootHash() string {
	return t.root.Hash
}

// Len returns the number of file nodes in the tree.
func (t *ChangeTree) Len() int {
	n := 0
	for _, node := range t.index {
		if !node.IsDir() {
			n++
		}
	}
	return n
}

// GetNode returns the node at the given path, or nil if absent.
func (t *ChangeTree) GetNode(path string) *TreeNode {
	return t.index[normalizePath(path)]
}

// GetAllFilePaths returns every file path in the tree, sorted.
func (t *ChangeTree) GetAllFilePaths() []string {
	paths := make([]string, 0, len(t.index))
	for path, node := range t.index {
		if !node.IsDir() {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// UpsertFile applies a file observation. The mtime+size pair is a cheap dirty
// proxy: when both match the stored node the file is reported Unchanged and
// its hash is left alone. Ancestor hashes are recomputed only when a change
// is detected.
func (t *ChangeTree) UpsertFile(stat FileStat) types.ChangeKind {
	path := normalizePath(stat.Path)
	if path == "" {
		return types.ChangeUnchanged
	}

	hash := stat.ContentHash
	if hash == "" {
		hash = fingerprintHash(path, stat.MTime, stat.Size)
	}

	existing, ok := t.index[path]
	if ok && !existing.IsDir() {
		if existing.MTime == stat.MTime.UnixNano() && existing.Size == stat.Size {
			return types.ChangeUnchanged
		}
		existing.MTime = stat.MTime.UnixNano()
		existing.Size = stat.Size
		existing.Hash = hash
		t.recomputeAncestors(path)
		return types.ChangeModified
	}

	if ok && existing.IsDir() {
		// A directory is being replaced by a file at the same path. Drop its
		// subtree from the index so descendants do not linger as ghosts.
		t.dropSubtree(existing)
	}

	node := &TreeNode{
		Path:  path,
		Kind:  KindFile,
		Hash:  hash,
		MTime: stat.MTime.UnixNano(),
		Size:  stat.Size,
	}
	parent := t.ensureDir(parentPath(path))
	parent.Children[node.Name()] = node
	t.index[path] = node
	t.recomputeAncestors(path)
	return types.ChangeAdded
}

// DeleteNode removes the node at path (and, for directories, its whole
// subtree). Empty ancestor directories are pruned so a tree after deletions
// hashes identically to one freshly built from the same contents.
func (t *ChangeTree) DeleteNode(path string) types.ChangeKind {
	path = normalizePath(path)
	node, ok := t.index[path]
	if !ok || path == "" {
		return types.ChangeNotFound
	}

	t.dropSubtree(node)

	parent := t.index[parentPath(path)]
	delete(parent.Children, node.Name())
	t.pruneEmptyDirs(parent)
	t.recomputeAncestors(path)
	return types.ChangeDeleted
}

// DetectChanges applies caller-supplied candidate observations (typically
// from a file watcher) without any filesystem access, and returns the events
// that actually changed the tree.
func (t *ChangeTree) DetectChanges(stats []types.PathStat) []types.ChangeEvent {
	events := make([]types.ChangeEvent, 0, len(stats))
	for _, stat := range stats {
		var kind types.ChangeKind
		if stat.Exists {
			kind = t.UpsertFile(FileStat{Path: stat.Path, MTime: stat.MTime, Size: stat.Size})
		} else {
			kind = t.DeleteNode(stat.Path)
		}
		if kind == types.ChangeUnchanged || kind == types.ChangeNotFound {
			continue
		}
		events = append(events, types.ChangeEvent{Path: normalizePath(stat.Path), Kind: kind})
	}
	return events
}

// ensureDir returns the directory node at path, creating intermediate
// directories as needed.
func (t *ChangeTree) ensureDir(path string) *TreeNode {
	if node, ok := t.index[path]; ok {
		return node
	}

	node := &TreeNode{
		Path:     path,
		Kind:     KindDirectory,
		Children: map[string]*TreeNode{},
	}
	parent := t.ensureDir(parentPath(path))
	parent.Children[node.Name()] = node
	t.index[path] = node
	return node
}

// recomputeAncestors rehashes the directory chain from path's parent up to
// the root. Sibling subtrees are untouched.
func (t *ChangeTree) recomputeAncestors(path string) {
	for {
		path = parentPath(path)
		dir, ok := t.index[path]
		if ok {
			dir.Hash = dir.computeDirHash()
		}
		if path == "" {
			return
		}
	}
}

// dropSubtree removes node and all its descendants from the index.
func (t *ChangeTree) dropSubtree(node *TreeNode) {
	delete(t.index, node.Path)
	for _, child := range node.Children {
		t.dropSubtree(child)
	}
}

// pruneEmptyDirs removes now-empty directories walking up from dir.
func (t *ChangeTree) pruneEmptyDirs(dir *TreeNode) {
	for dir.Path != "" && len(dir.Children) == 0 {
		parent := t.index[parentPath(dir.Path)]
		delete(parent.Children, dir.Name())
		delete(t.index, dir.Path)
		dir = parent
	}
}
