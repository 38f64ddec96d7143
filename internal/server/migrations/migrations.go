// Package migrations embeds the server's goose SQL migrations.
package migrations

import "embed"

// Migrations holds the *.sql files applied by repomanager.RunMigrations.
//
//go:embed *.sql
var Migrations embed.FS
