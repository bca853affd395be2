package commands

import (
	"database/sql"
	"fmt"

	"github.com/amirphl/company-segments/config"
	"github.com/amirphl/company-segments/migrations"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command
func MigrateCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			db, closeDB, err := migrationDB(app)
			if err != nil {
				return err
			}
			defer closeDB()

			applied, err := migrations.Apply(cmd.Context(), db, app.Config.Database.Driver)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(w, "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(w, "%s %s\n", okMark, name)
			}
			return nil
		},
	}
}

// migrationDB returns a plain database/sql handle. PostgreSQL migrations run over lib/pq
// on a dedicated connection; sqlite reuses the gorm pool.
func migrationDB(app *App) (*sql.DB, func(), error) {
	if app.Config.Database.Driver == "postgres" {
		return openPostgres(app.Config.Database)
	}
	db, err := app.DB.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() {}, nil
}

func openPostgres(cfg config.DatabaseConfig) (*sql.DB, func(), error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, func() { db.Close() }, nil
}
