// Package dbmigrations exposes embedded SQL migrations for DCAFlow binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into DCAFlow binaries.
//
//go:embed *.sql
var Files embed.FS
