// Package migrations embeds the ColdWatch SQL schema into the binary.
//
// Import it for side effects before calling database.Migrate.
package migrations

import (
	"embed"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
