//go:build sqlite_vec
// +build sqlite_vec

package vectorstore

// CGO build with the sqlite-vec extension loaded through
// github.com/mattn/go-sqlite3. Similarity search runs inside SQLite instead
// of scanning chunk vectors in Go.
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName selects the database/sql driver the store opens with.
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether sqlite-vec backs similarity
	// search in this build.
	VectorExtensionAvailable = true

	// BuildMode is surfaced by the version subcommands.
	BuildMode = "cgo"
)
