// Package migrations embeds the Postgres SQL migration files so they work
// regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem (e.g. 001_initial.sql).
//
//go:embed *.sql
var FS embed.FS
