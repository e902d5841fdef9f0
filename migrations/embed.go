// Package migrations embeds the billing schema migrations applied by the
// worker on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
