// Package migrations embeds the goose migration files for the
// postgres credential store.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
