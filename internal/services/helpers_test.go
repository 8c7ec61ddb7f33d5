package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConnection(t *testing.T, db *gorm.DB, mutate func(*domain.Connection)) *domain.Connection {
	t.Helper()
	c := &domain.Connection{
		UserID:        "u1",
		Name:          "main line",
		Provider:      domain.ProviderWhatsAppCloud,
		PhoneNumber:   "+5511900000000",
		PhoneNumberID: "pn-1",
		AccessToken:   "tok",
	}
	if mutate != nil {
		mutate(c)
	}
	if err := repo.CreateConnection(context.Background(), db, c); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	return c
}
