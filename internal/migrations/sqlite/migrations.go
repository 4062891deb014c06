// Package sqlite embeds the goose migrations for the SQLite schema.
package sqlite

import "embed"

//go:embed *.sql
var Migrations embed.FS
