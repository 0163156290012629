package store

import (
	"database/sql"
	"log"
	"runtime"

	"github.com/haatos/verify-ci/internal/settings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func InitDatabase(readonly bool) *sql.DB {
	driver := settings.Settings.DatabaseDriver
	db, err := sql.Open(driver, settings.Settings.DatabaseDSN(readonly))
	if err != nil {
		log.Fatalf("fatal error opening %s database: %+v", driver, err)
	}

	if driver == settings.DriverPgx {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
		return db
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	} else {
		if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
			log.Fatal(err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			log.Fatal(err)
		}
		db.SetMaxOpenConns(1)
	}

	return db
}
