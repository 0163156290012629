package store

import (
	"database/sql"
	"log"
	"os"
	"testing"
)

var runStore *RunSQLiteStore
var cacheStore *CacheSQLiteStore
var apiKeyStore *APIKeySQLiteStore

func TestMain(m *testing.M) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		log.Fatal(err)
	}

	RunMigrations(db, "sqlite")

	runStore = NewRunSQLiteStore(db, db)
	cacheStore = NewCacheSQLiteStore(db, db)
	apiKeyStore = NewAPIKeySQLiteStore(db, db)
	code := m.Run()
	os.Exit(code)
}
