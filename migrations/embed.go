// Package migrations embeds the SQL schema migrations into the binary so
// Hearth Core can migrate its database without shipping loose .sql files.
package migrations

import (
	"embed"

	"github.com/hearthd/hearth-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files sit at the root of the embedded FS
}
