// Package storagetest stellt ein Repository auf einer temporären SQLite-Datenbank für Tests bereit.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"hn-digest/storage"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewRepository öffnet eine frische, migrierte Datenbank, die mit dem Test verschwindet.
func NewRepository(t testing.TB) *storage.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "hn.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("sqlite öffnen: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := storage.NewRepository(db, zaptest.NewLogger(t))
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migration: %v", err)
	}
	return repo
}
