// Package migrations embeds the postgres schema so the migrate command and
// integration tests work regardless of working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
