// Package db embeds the SQL migrations so binaries can apply them at startup.
package db

import "embed"

// Migrations holds the versioned schema files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS
