// Package migrations embeds the SQL schema files into the binary.
//
// Importing it (usually for side effects) registers the files with the
// database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.Migrations = files
	database.MigrationsDir = "."
}
