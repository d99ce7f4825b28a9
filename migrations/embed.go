// Package migrations embeds the bridge's SQL schema into the binary, so
// the database can be migrated without the .sql files on disk.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
