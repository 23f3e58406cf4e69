package db

import (
	"fmt"

	"coderoom/internal/config"
	"coderoom/internal/logging"
	"coderoom/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm connects to Postgres and migrates the schema
func NewGorm(cfg *config.Config) (*GormDB, error) {
	return Open(postgres.Open(cfg.DatabaseURL()))
}

// Open connects through any gorm dialector and migrates the schema.
// Tests pass a SQLite dialector here.
func Open(dialector gorm.Dialector) (*GormDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logging.Component("db").WithField("dialect", dialector.Name()).Info("Database connected and migrated")

	return &GormDB{db}, nil
}

// Migrate creates or updates every table the collaboration engine owns
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.File{},
		&models.Snapshot{},
		&models.Contribution{},
		&models.RoomDocument{},
		&models.ChatMessage{},
		&models.Feedback{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
