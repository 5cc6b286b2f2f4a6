package history

import "embed"

// migrationsFS carries the per-driver schema migrations. Layout:
//
//	migrations/sqlite/NNNN_name.{up,down}.sql
//	migrations/postgres/NNNN_name.{up,down}.sql
//
//go:embed migrations
var migrationsFS embed.FS
