//go:build sqlite_cgo

package storage

// Compiled with the sqlite_cgo tag: the metadata database is opened with the
// C SQLite library.
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver used to open the metadata database
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
