// Package migrations embeds the SQLite schema of a device replica.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
