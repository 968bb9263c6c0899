// Package migrations embeds the goose SQL migration files for the durable
// storage schema, in the shape internal/db/migrate.go's goose.SetBaseFS
// call already expects.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
