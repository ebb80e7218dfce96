package store

import "embed"

// Migration files are embedded into the binary so deployments need no
// external migration assets; pending migrations apply on startup.
//
//go:embed migrations
var migrationsFS embed.FS
