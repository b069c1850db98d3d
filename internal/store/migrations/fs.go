// Package migrations embeds the SQL migration files for the canonical log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
