// Package migrations holds the Postgres schema, embedded into the binary so
// the migrate command needs no files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
