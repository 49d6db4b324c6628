// Package vectorstore persists embedded chunks in SQLite and serves
// similarity retrieval over them.
//
// Storage is content addressed: chunks and embeddings are keyed by
// (content hash, embedding model), so files with identical contents share
// one set of rows no matter how many paths or workspaces reference them.
// The tags table maps an index namespace (directory, branch, model) plus
// file path onto cached content; deleting a tag never touches content
// still referenced elsewhere, and a garbage collection pass removes rows
// once the last reference is gone.
//
// Two build modes are supported. With the sqlite_vec tag the store uses
// github.com/mattn/go-sqlite3 and ranks candidates in SQL; without it the
// pure Go modernc.org/sqlite driver is used and cosine similarity is
// computed in Go.
package vectorstore
