// Package migrations embeds the SQL schema applied by infra.Migrate.
package migrations

import "embed"

// FS holds the versioned golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
