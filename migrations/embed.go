// Package migrations embeds the fortress schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
