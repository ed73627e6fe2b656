package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClampRankRange    = "2026-09-01_clamp_rank_range"
	migrationDropEmptyWarnings = "2026-09-14_drop_empty_warn_counters"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClampRankRange, apply: clampRankRange},
		{name: migrationDropEmptyWarnings, apply: dropEmptyWarnCounters},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func clampRankRange(db *gorm.DB) error {
	if err := db.Model(&roles.Assignment{}).
		Where("rank > ?", int(roles.MaxRank)).
		Update("rank", int(roles.MaxRank)).Error; err != nil {
		return err
	}
	return db.Model(&roles.Assignment{}).
		Where("rank < ?", int(roles.MinRank)).
		Update("rank", int(roles.MinRank)).Error
}

func dropEmptyWarnCounters(db *gorm.DB) error {
	return db.Where("count <= 0").Delete(&moderation.WarnCounter{}).Error
}
