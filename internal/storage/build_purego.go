//go:build !sqlite_cgo
// +build !sqlite_cgo

package storage

// This file is compiled by default. It uses a pure Go SQLite implementation,
// so no C compiler is required and cross-compilation works.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
