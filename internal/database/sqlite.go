package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/warden/internal/gate"
	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&roles.Assignment{},
		&roles.RoleName{},
		&moderation.WarnCounter{},
		&gate.ChatSettings{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := pruneImplicitRanks(db); err != nil && logger != nil {
		logger.Warn("implicit rank cleanup failed", zap.Error(err))
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// pruneImplicitRanks drops stored rank-0 rows; a missing row already resolves to RankUser.
func pruneImplicitRanks(db *gorm.DB) error {
	statement := fmt.Sprintf("DELETE FROM %s WHERE rank = %d;", roles.Assignment{}.TableName(), int(roles.RankUser))
	return db.Exec(statement).Error
}
