package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options describes the schema and one-shot migrations of a sqlite database.
type Options struct {
	Path       string
	Logger     *zap.Logger
	Models     []any
	Migrations []Migration
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(opts Options) (*gorm.DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	models := append([]any{&migrationRecord{}}, opts.Models...)
	if err := db.AutoMigrate(models...); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := applyMigrations(db, opts.Migrations, opts.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if opts.Logger != nil {
		opts.Logger.Info("database initialized", zap.String("path", opts.Path))
	}

	return db, nil
}
