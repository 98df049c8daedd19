// Package migrations embeds SQL migration files into the binary.
//
// This allows the access controller to run migrations without needing the
// SQL files present on the filesystem.
package migrations

import "embed"

// FS holds every migration at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
