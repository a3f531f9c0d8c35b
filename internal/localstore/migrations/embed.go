package migrations

import "embed"

// FS contains the versioned schema of the upload-book database. File names
// start with the schema version they upgrade to (0001_*.sql -> version 1).
//
//go:embed *.sql
var FS embed.FS
