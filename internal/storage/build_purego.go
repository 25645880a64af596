//go:build !sqlite_cgo

package storage

// Default build: a pure Go SQLite, no C toolchain required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver used to open the metadata database
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
