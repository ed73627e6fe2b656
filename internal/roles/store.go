package roles

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryConversation      = "conversation_id = ?"
	queryConversationActor = "conversation_id = ? AND actor_id = ?"
)

var errMissingDatabase = errors.New("roles: database handle is required")

// Store persists ranks and role labels in the relational database.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an opened gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// Rank returns the stored rank, or RankUser when nothing is stored.
func (s *Store) Rank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (Rank, error) {
	var assignment Assignment
	err := s.db.WithContext(ctx).
		Where(queryConversationActor, conversation.String(), actor.String()).
		Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RankUser, nil
	}
	if err != nil {
		return RankUser, err
	}
	return ClampRank(assignment.Rank), nil
}

// SetRank upserts the rank of an actor.
func (s *Store) SetRank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID, rank Rank) error {
	assignment := Assignment{
		ConversationID: conversation.String(),
		ActorID:        actor.String(),
		Rank:           int(rank),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "actor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rank", "updated_at"}),
		}).
		Create(&assignment).Error
}

// RemoveRank deletes the stored rank so the actor reads as RankUser again.
func (s *Store) RemoveRank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	return s.db.WithContext(ctx).
		Where(queryConversationActor, conversation.String(), actor.String()).
		Delete(&Assignment{}).Error
}

// ListRanks returns every stored assignment of a conversation, highest rank first.
func (s *Store) ListRanks(ctx context.Context, conversation chat.ConversationID) ([]Assignment, error) {
	var assignments []Assignment
	err := s.db.WithContext(ctx).
		Where(queryConversation, conversation.String()).
		Order("rank DESC, actor_id ASC").
		Find(&assignments).Error
	return assignments, err
}

// RoleNames returns the labels of a conversation merged over the defaults.
func (s *Store) RoleNames(ctx context.Context, conversation chat.ConversationID) (map[Rank]string, error) {
	names := make(map[Rank]string, len(DefaultRoleNames))
	for rank, name := range DefaultRoleNames {
		names[rank] = name
	}
	var stored []RoleName
	if err := s.db.WithContext(ctx).Where(queryConversation, conversation.String()).Find(&stored).Error; err != nil {
		return names, err
	}
	for _, entry := range stored {
		rank := Rank(entry.Rank)
		if rank.Valid() {
			names[rank] = entry.Name
		}
	}
	return names, nil
}

// SetRoleNames upserts labels for the provided ranks.
func (s *Store) SetRoleNames(ctx context.Context, conversation chat.ConversationID, names map[Rank]string) error {
	if len(names) == 0 {
		return nil
	}
	rows := make([]RoleName, 0, len(names))
	for rank, name := range names {
		rows = append(rows, RoleName{ConversationID: conversation.String(), Rank: int(rank), Name: name})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "rank"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(&rows).Error
}
