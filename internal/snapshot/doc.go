// Package snapshot persists change trees durably, one JSON file per
// workspace.
//
// File names are a reversible (base64) encoding of the workspace path, so
// the set of cached workspaces can be listed without opening any file.
//
// # Crash Safety
//
// Save writes a temp file, rotates the existing primary to a .bak sibling,
// atomically renames temp over primary, then removes the backup. A failure
// anywhere in that sequence rolls the primary back, so readers never observe
// a newer-but-broken snapshot.
//
// Load validates the primary (schema version, workspace path, structural
// integrity of the decoded tree) and falls back to the backup when the
// primary is invalid, promoting it on success. When both are invalid the
// files are deleted and Load returns (nil, nil): corruption degrades to "no
// cache", signalling a full rebuild, and never crosses the service boundary
// as an error. Version mismatches are corruption by definition; snapshots
// are rebuilt, not migrated.
package snapshot
