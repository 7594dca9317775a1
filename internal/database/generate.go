package database

// This file documents code generation for the database package.
//
// schema.sql is a snapshot of the fully migrated schema, regenerated from
// the migration files with:
//   go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
