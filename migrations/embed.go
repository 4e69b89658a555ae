// Package migrations embeds the billing ledger schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
