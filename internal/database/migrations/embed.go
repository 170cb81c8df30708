// internal/database/migrations/embed.go

// Package migrations embeds the SQL schema for each supported store backend.
package migrations

import "embed"

// FS holds one directory of golang-migrate files per backend.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
