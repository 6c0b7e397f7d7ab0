package database

import _ "embed"

// Schema is the flattened schema produced by the migrations. It is
// regenerated with `go generate ./internal/database` and lets tests build a
// database without running the migrator.
//
//go:embed schema.sql
var Schema string
