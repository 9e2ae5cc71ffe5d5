// Package migrations embeds the SQL schema migrations consumed by
// golang-migrate's iofs source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
