// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contains the migrations for the profile, organization and audit tables.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "sql"
