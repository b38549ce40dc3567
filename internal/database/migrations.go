package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

// Migration is a named data repair applied at most once per database.
type Migration struct {
	Name  string
	Apply func(*gorm.DB) error
}

// applyMigrations runs each pending migration and its bookkeeping row in one transaction.
func applyMigrations(db *gorm.DB, migrations []Migration, logger *zap.Logger) error {
	for _, migration := range migrations {
		applied, err := migrationApplied(db, migration.Name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Apply(tx); err != nil {
				return err
			}
			record := migrationRecord{Name: migration.Name, AppliedAtSeconds: time.Now().UTC().Unix()}
			return tx.Create(&record).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.Name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.Name))
		}
	}
	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var record migrationRecord
	err := db.Where("name = ?", name).Take(&record).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}
