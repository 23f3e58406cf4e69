// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"coderoom/internal/db"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// New returns a migrated SQLite database in a temp dir, closed on cleanup.
// The pool is pinned to one connection: SQLite serialises writers anyway and
// this keeps concurrent tests free of SQLITE_BUSY.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(sqlite.Open(path + "?_pragma=busy_timeout(5000)"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	sqlDB, err := database.DB.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		database.Close()
	})

	return database.DB
}
