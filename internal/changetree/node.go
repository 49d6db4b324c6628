package changetree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NodeKind distinguishes file leaves from directory nodes.
type NodeKind string

const (
	KindFile      NodeKind = "file"
	KindDirectory NodeKind = "directory"
)

// TreeNode is one entry in a ChangeTree. File nodes carry a content hash and
// stat fingerprint; directory nodes derive their hash from their children.
type TreeNode struct {
	Path     string               `json:"path"` // workspace-relative, "" for the root
	Kind     NodeKind             `json:"kind"`
	Hash     string               `json:"hash"`
	MTime    int64                `json:"mtime,omitempty"` // unix nanoseconds
	Size     int64                `json:"size,omitempty"`
	Children map[string]*TreeNode `json:"children,omitempty"` // keyed by base name
}

// IsDir reports whether the node is a directory.
func (n *TreeNode) IsDir() bool {
	return n.Kind == KindDirectory
}

// Name returns the node's base name. The root's name is empty.
func (n *TreeNode) Name() string {
	if n.Path == "" {
		return ""
	}
	if i := strings.LastIndexByte(n.Path, '/'); i >= 0 {
		return n.Path[i+1:]
	}
	return n.Path
}

// computeDirHash derives a directory's hash from its children's (name, hash)
// pairs sorted by name, making the result independent of insertion order.
func (n *TreeNode) computeDirHash() string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		child := n.Children[name]
		fmt.Fprintf(h, "%s\x00%s\x00", name, child.Hash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// fingerprintHash derives a leaf hash from the stat fingerprint alone. Used
// when a change was observed without reading the file's bytes, e.g. from a
// watcher event. Superseded by the real content hash on the next scan.
func fingerprintHash(path string, mtime time.Time, size int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d", path, mtime.UnixNano(), size)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizePath converts a path to the tree's canonical form:
// slash-separated, no leading "./" or "/".
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	path = strings.Trim(path, "/")
	return path
}

// parentPath returns the directory portion of a normalized path, "" for
// top-level entries.
func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}
