package database

import _ "embed"

// Schema holds the full current schema as extracted from the migrations.
// Tests apply it directly to in-memory databases instead of running the
// migration machinery.
//
//go:embed schema.sql
var Schema string
