// Package db embeds the SQL schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for every billing table; statements are idempotent
// and safe to re-run.
//
//go:embed migrations/001_schema.sql
var Schema string
