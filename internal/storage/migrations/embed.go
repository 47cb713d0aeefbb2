// Package migrations ships the SQL schema as embedded files and applies it
// at startup. Files run in lexical order and must stay idempotent.
package migrations

import "embed"

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
