// Package migrations embeds the SQL schema of the conflict journal.
//
//	err := db.Migrate(ctx, migrations.FS)
package migrations

import "embed"

// FS holds the *.sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
