package roles

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"go.uber.org/zap"
)

// ErrUnauthorized indicates the actor lacks the required rank or administrator status.
var ErrUnauthorized = errors.New("roles: unauthorized")

var errMissingRankReader = errors.New("roles: rank reader is required")

// RankReader loads stored per-conversation ranks.
type RankReader interface {
	Rank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (Rank, error)
}

// MemberStatusReader queries platform-native membership status.
type MemberStatusReader interface {
	MemberStatus(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) (chat.MemberStatus, error)
}

// ResolverConfig describes the dependencies of the permission resolver.
type ResolverConfig struct {
	Ranks        RankReader
	Members      MemberStatusReader
	SuperAdminID chat.ActorID
	Logger       *zap.Logger
}

// Resolver combines stored ranks, platform administrator status and the
// configured super-admin into an effective privilege level.
type Resolver struct {
	ranks      RankReader
	members    MemberStatusReader
	superAdmin chat.ActorID
	logger     *zap.Logger
}

// NewResolver constructs a Resolver. Members may be nil, in which case platform
// administrator status is never consulted.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Ranks == nil {
		return nil, errMissingRankReader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		ranks:      cfg.Ranks,
		members:    cfg.Members,
		superAdmin: cfg.SuperAdminID,
		logger:     logger,
	}, nil
}

// Resolve returns the effective rank of the actor. The super-admin and platform
// administrators resolve to MaxRank. Lookup failures are logged and degrade to
// whatever the remaining sources report.
func (r *Resolver) Resolve(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID) Rank {
	if r.isSuperAdmin(actor) {
		return MaxRank
	}
	stored := r.storedRank(ctx, actor, conversation)
	if stored == MaxRank {
		return stored
	}
	if r.isPlatformAdmin(ctx, actor, conversation) {
		return MaxRank
	}
	return stored
}

// Authorize reports whether the actor may perform an operation requiring minRank.
func (r *Resolver) Authorize(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, minRank Rank) bool {
	if r.isSuperAdmin(actor) {
		return true
	}
	if r.storedRank(ctx, actor, conversation) >= minRank {
		return true
	}
	return r.isPlatformAdmin(ctx, actor, conversation)
}

func (r *Resolver) isSuperAdmin(actor chat.ActorID) bool {
	return r.superAdmin != "" && actor == r.superAdmin
}

func (r *Resolver) storedRank(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID) Rank {
	rank, err := r.ranks.Rank(ctx, conversation, actor)
	if err != nil {
		r.logger.Warn("rank lookup failed",
			zap.String("conversation_id", conversation.String()),
			zap.String("actor_id", actor.String()),
			zap.Error(err))
		return RankUser
	}
	return rank
}

func (r *Resolver) isPlatformAdmin(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID) bool {
	if r.members == nil {
		return false
	}
	status, err := r.members.MemberStatus(ctx, conversation, actor)
	if err != nil {
		r.logger.Warn("member status lookup failed",
			zap.String("conversation_id", conversation.String()),
			zap.String("actor_id", actor.String()),
			zap.Error(err))
		return false
	}
	return status.IsAdministrator()
}
