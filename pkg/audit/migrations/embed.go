// Package migrations embeds the versioned PostgreSQL schema of the audit log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
