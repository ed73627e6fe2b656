package roles

import (
	"fmt"
	"time"
)

// Rank is a per-conversation privilege level.
type Rank int

const (
	RankUser Rank = iota
	RankModerator
	RankSeniorMod
	RankAssistant
	RankOwner
)

const (
	MinRank = RankUser
	MaxRank = RankOwner
)

// ClampRank forces a raw value into the supported range.
func ClampRank(value int) Rank {
	if value < int(MinRank) {
		return MinRank
	}
	if value > int(MaxRank) {
		return MaxRank
	}
	return Rank(value)
}

// Valid reports whether the rank is inside the supported range.
func (r Rank) Valid() bool {
	return r >= MinRank && r <= MaxRank
}

func (r Rank) String() string {
	return fmt.Sprintf("%d", int(r))
}

// DefaultRoleNames labels each rank when a conversation has not renamed it.
var DefaultRoleNames = map[Rank]string{
	RankUser:      "User",
	RankModerator: "Moderator",
	RankSeniorMod: "SeniorMod",
	RankAssistant: "Assistant",
	RankOwner:     "Owner",
}

// Assignment stores the rank of an actor inside one conversation.
type Assignment struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	ActorID        string    `gorm:"column:actor_id;primaryKey;size:190;not null"`
	Rank           int       `gorm:"column:rank;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Assignment) TableName() string {
	return "conversation_ranks"
}

// RoleName stores a conversation specific label for a rank.
type RoleName struct {
	ConversationID string `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	Rank           int    `gorm:"column:rank;primaryKey;not null"`
	Name           string `gorm:"column:name;size:64;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoleName) TableName() string {
	return "conversation_role_names"
}
