//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package vectorstore

// Pure Go build. The index database opens through modernc.org/sqlite, so no
// C toolchain is needed, and similarity search scans chunk vectors in Go.
//
//	CGO_ENABLED=0 go build -tags purego ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName selects the database/sql driver the store opens with.
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether sqlite-vec backs similarity
	// search in this build.
	VectorExtensionAvailable = false

	// BuildMode is surfaced by the version subcommands.
	BuildMode = "purego"
)
