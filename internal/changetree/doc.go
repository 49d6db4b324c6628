// Package changetree implements a content-addressable hierarchy for cheap
// workspace change detection.
//
// Each file leaf carries a content hash; each directory's hash derives from
// its children's (name, hash) pairs sorted by name. Two trees built from
// identical file contents therefore yield the same root hash regardless of
// scan order, and editing one file changes only that leaf's hash and its
// ancestor chain up to the root.
//
// # Basic Usage
//
//	tree := changetree.New()
//	kind := tree.UpsertFile(changetree.FileStat{
//	    Path:        "pkg/auth/login.go",
//	    MTime:       info.ModTime(),
//	    Size:        info.Size(),
//	    ContentHash: hash,
//	})
//	// kind is ChangeAdded, ChangeModified or ChangeUnchanged
//
// # Dirty Detection
//
// UpsertFile compares mtime+size against the stored node before touching any
// hashes. This is a deliberate cost/correctness trade-off: filesystems that
// do not reliably update mtime can mask a content change until the next full
// reconciliation scan.
//
// # Persistence
//
// Serialize/Deserialize round-trip the full tree as JSON. Deserialize
// validates structure (paths extend their parents, directory hashes match
// their children) and fails loudly on malformed input rather than returning
// a partially populated tree.
package changetree
