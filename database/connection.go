// Package database provides persistence for liqwatch: a gorm+Postgres
// connection for signals/outcomes/context snapshots/diagnostics, plus a
// lighter raw database/sql (lib/pq) connection used only for the
// state_blob key/value checkpoint store. Kept as two parallel connections,
// the same split the teacher maintains between database/models.go (gorm)
// and database/connection.go (raw sql.DB).
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "liqwatch/database/models_pkg"
)

// Database holds the GORM connection used for every table except
// state_blob.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying gorm.DB for advanced operations.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect opens the GORM connection and auto-migrates the schema.
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.SignalRow{},
		&models.OutcomeRow{},
		&models.ContextOIRow{},
		&models.ContextFundingRow{},
		&models.DetectedSignalDiagnostic{},
		&models.MessagingDeliveryLog{},
	); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the GORM connection.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
