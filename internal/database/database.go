package database

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/coinledger/coinledger-api/internal/database/migrations"
	"github.com/coinledger/coinledger-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection.
// The sqlite file path can be overridden via DATABASE_PATH.
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "ledger.db"
	}
	return open(path)
}

// NewTestDatabase returns an isolated in-memory database with the full
// schema, for use in package tests.
func NewTestDatabase() (*gorm.DB, error) {
	name := fmt.Sprintf("file:test_%s?mode=memory&cache=shared", uuid.New().String())
	return open(name)
}

func open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&types.Profile{},
		&types.Order{},
		&types.Holding{},
		&types.Transaction{},
		&types.IdempotencyRecord{},
	); err != nil {
		return nil, err
	}

	// Data migrations run after the schema exists
	if err := migrations.NormalizeCoinIdentifiers(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
