// Package treebuilder scans the filesystem to construct and update change
// trees.
//
// The builder supports three scan shapes:
//
//   - Build / FullScan: a queue-based breadth-first walk of the whole
//     workspace that reconciles the tree against disk, including deletions.
//   - ScanDirectories: the same reconciliation restricted to given
//     subdirectories, for efficient partial refresh.
//   - Update: re-stat only an explicit list of paths, typically sourced from
//     a file watcher; a vanished path is treated as a deletion.
//
// # Filtering
//
// Files pass through an extension allowlist, exclude patterns and a
// max-file-size cutoff. Exclude patterns match by segment name
// ("node_modules"), base-name suffix ("*.min.js") or path substring
// ("dist/assets"). Oversized files are skipped, never hashed. Hidden
// directories are never descended into.
//
// # Cooperative Scanning
//
// FullScan yields to the scheduler every fixed batch of files and reports
// (scanned, estimatedTotal) progress, so scans of very large workspaces
// don't starve other work. Changed files are hashed with bounded
// concurrency; unreadable entries are skipped rather than failing the scan.
package treebuilder
