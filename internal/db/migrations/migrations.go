// Package migrations embeds the SQL schema goose applies via db.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
