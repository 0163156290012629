package store

import (
	"database/sql"
	"log"
	"path"

	assets "github.com/haatos/verify-ci"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded migrations for dialect ("sqlite" or
// "postgres").
func RunMigrations(db *sql.DB, dialect string) {
	goose.SetBaseFS(assets.MigrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		log.Fatal(err)
	}
	if err := goose.Up(db, path.Join("migrations", dialect)); err != nil {
		log.Fatal(err)
	}
}
