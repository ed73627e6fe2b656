package gate

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("gate: database handle is required")

// ChatSettings stores the per-conversation content filter opt-in.
type ChatSettings struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	FilterEnabled  bool      `gorm:"column:filter_enabled;not null;default:false"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ChatSettings) TableName() string {
	return "conversation_settings"
}

// SettingsStore reads and writes ChatSettings rows.
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore wraps an opened gorm handle.
func NewSettingsStore(db *gorm.DB) (*SettingsStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SettingsStore{db: db}, nil
}

// FilterEnabled reports the opt-in flag; conversations without a row are opted out.
func (s *SettingsStore) FilterEnabled(ctx context.Context, conversation chat.ConversationID) (bool, error) {
	var settings ChatSettings
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversation.String()).Take(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return settings.FilterEnabled, nil
}

// SetFilterEnabled upserts the opt-in flag.
func (s *SettingsStore) SetFilterEnabled(ctx context.Context, conversation chat.ConversationID, enabled bool) error {
	settings := ChatSettings{ConversationID: conversation.String(), FilterEnabled: enabled}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"filter_enabled", "updated_at"}),
		}).
		Create(&settings).Error
}
