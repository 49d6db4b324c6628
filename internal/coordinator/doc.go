// Package coordinator orchestrates the indexing cycle for workspaces.
//
// A cycle loads the workspace's change tree snapshot, scans the filesystem
// against it, classifies the resulting changes against the vector store's
// content cache (compute, delete, or tag-only), applies them, and persists
// the updated snapshot. The snapshot is only written after the vector store
// update fully succeeded, so a crash or cancellation mid-cycle leaves the
// previous baseline intact and the next cycle re-detects the remaining work.
//
// One workspace runs at most one cycle at a time, enforced by a
// non-blocking per-workspace lock; a second caller fails fast with
// AlreadyIndexing. Cancellation is cooperative and resolves the cycle as
// cancelled rather than failed.
package coordinator
