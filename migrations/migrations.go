// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
