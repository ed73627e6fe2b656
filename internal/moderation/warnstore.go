package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"gorm.io/gorm"
)

// WarnStore holds escalating warning counters keyed by conversation and actor.
type WarnStore interface {
	Increment(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (int, error)
	Count(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (int, error)
	Reset(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error
}

type warnKey struct {
	conversation chat.ConversationID
	actor        chat.ActorID
}

// MemoryWarnStore keeps counters for the lifetime of the process.
type MemoryWarnStore struct {
	mu     sync.Mutex
	counts map[warnKey]int
}

// NewMemoryWarnStore constructs an empty in-memory store.
func NewMemoryWarnStore() *MemoryWarnStore {
	return &MemoryWarnStore{counts: make(map[warnKey]int)}
}

func (s *MemoryWarnStore) Increment(_ context.Context, conversation chat.ConversationID, actor chat.ActorID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := warnKey{conversation: conversation, actor: actor}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryWarnStore) Count(_ context.Context, conversation chat.ConversationID, actor chat.ActorID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[warnKey{conversation: conversation, actor: actor}], nil
}

func (s *MemoryWarnStore) Reset(_ context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, warnKey{conversation: conversation, actor: actor})
	return nil
}

// WarnCounter is the durable row behind GormWarnStore.
type WarnCounter struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	ActorID        string    `gorm:"column:actor_id;primaryKey;size:190;not null"`
	Count          int       `gorm:"column:count;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (WarnCounter) TableName() string {
	return "warn_counters"
}

const queryConversationActor = "conversation_id = ? AND actor_id = ?"

var errMissingDatabase = errors.New("moderation: database handle is required")

// GormWarnStore keeps counters in the relational database so they survive restarts.
type GormWarnStore struct {
	db *gorm.DB
}

// NewGormWarnStore wraps an opened gorm handle.
func NewGormWarnStore(db *gorm.DB) (*GormWarnStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormWarnStore{db: db}, nil
}

func (s *GormWarnStore) Increment(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter WarnCounter
		err := tx.Where(queryConversationActor, conversation.String(), actor.String()).Take(&counter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = WarnCounter{ConversationID: conversation.String(), ActorID: actor.String()}
		} else if err != nil {
			return err
		}
		counter.Count++
		if err := tx.Save(&counter).Error; err != nil {
			return err
		}
		count = counter.Count
		return nil
	})
	return count, err
}

func (s *GormWarnStore) Count(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (int, error) {
	var counter WarnCounter
	err := s.db.WithContext(ctx).Where(queryConversationActor, conversation.String(), actor.String()).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return counter.Count, err
}

func (s *GormWarnStore) Reset(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	return s.db.WithContext(ctx).
		Where(queryConversationActor, conversation.String(), actor.String()).
		Delete(&WarnCounter{}).Error
}
