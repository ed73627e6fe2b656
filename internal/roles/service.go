package roles

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"go.uber.org/zap"
)

const maxRoleNameLength = 64

var (
	errMissingStore      = errors.New("roles: rank store is required")
	errMissingAuthorizer = errors.New("roles: authorizer is required")
	// ErrInvalidRoleNames indicates that no usable rank:name pair was supplied.
	ErrInvalidRoleNames = errors.New("roles: invalid role names")
)

// ServiceError carries an operation scoped code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opAssignRank  = "roles.assign_rank"
	opRemoveRank  = "roles.remove_rank"
	opDescribe    = "roles.describe_rank"
	opRenameRoles = "roles.rename_roles"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RankStore is the persistence surface used by the service.
type RankStore interface {
	RankReader
	SetRank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID, rank Rank) error
	RemoveRank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID) error
	RoleNames(ctx context.Context, conversation chat.ConversationID) (map[Rank]string, error)
	SetRoleNames(ctx context.Context, conversation chat.ConversationID, names map[Rank]string) error
}

// Authorizer gates an operation on a minimum rank.
type Authorizer interface {
	Authorize(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, minRank Rank) bool
}

// ServiceConfig describes the dependencies of the rank administration service.
type ServiceConfig struct {
	Store      RankStore
	Authorizer Authorizer
	Logger     *zap.Logger
}

// Service assigns ranks and role labels. Every mutation requires MaxRank.
type Service struct {
	store      RankStore
	authorizer Authorizer
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, authorizer: cfg.Authorizer, logger: logger}, nil
}

// AssignRank stores a clamped rank for target on behalf of actor.
func (s *Service) AssignRank(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, target chat.ActorID, value int) (Rank, error) {
	if !s.authorizer.Authorize(ctx, actor, conversation, MaxRank) {
		return RankUser, ErrUnauthorized
	}
	rank := ClampRank(value)
	if err := s.store.SetRank(ctx, conversation, target, rank); err != nil {
		s.logError(opAssignRank, "store_failed", err, conversation, target)
		return RankUser, newServiceError(opAssignRank, "store_failed", err)
	}
	s.logger.Info("rank assigned",
		zap.String("conversation_id", conversation.String()),
		zap.String("actor_id", actor.String()),
		zap.String("target_id", target.String()),
		zap.Int("rank", int(rank)))
	return rank, nil
}

// RemoveRank deletes the stored rank of target on behalf of actor.
func (s *Service) RemoveRank(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, target chat.ActorID) error {
	if !s.authorizer.Authorize(ctx, actor, conversation, MaxRank) {
		return ErrUnauthorized
	}
	if err := s.store.RemoveRank(ctx, conversation, target); err != nil {
		s.logError(opRemoveRank, "store_failed", err, conversation, target)
		return newServiceError(opRemoveRank, "store_failed", err)
	}
	return nil
}

// DescribeRank returns the stored rank of target and its label.
func (s *Service) DescribeRank(ctx context.Context, conversation chat.ConversationID, target chat.ActorID) (Rank, string, error) {
	rank, err := s.store.Rank(ctx, conversation, target)
	if err != nil {
		s.logError(opDescribe, "lookup_failed", err, conversation, target)
		return RankUser, "", newServiceError(opDescribe, "lookup_failed", err)
	}
	return rank, s.RoleName(ctx, conversation, rank), nil
}

// RoleName returns the label of a rank inside a conversation.
func (s *Service) RoleName(ctx context.Context, conversation chat.ConversationID, rank Rank) string {
	names, err := s.store.RoleNames(ctx, conversation)
	if err != nil {
		s.logger.Warn("role name lookup failed", zap.String("conversation_id", conversation.String()), zap.Error(err))
	}
	if name, ok := names[rank]; ok {
		return name
	}
	if name, ok := DefaultRoleNames[rank]; ok {
		return name
	}
	return "Rank" + rank.String()
}

// RenameRoles applies a "0:User,1:Mod" style list and returns how many labels changed.
func (s *Service) RenameRoles(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, raw string) (int, error) {
	if !s.authorizer.Authorize(ctx, actor, conversation, MaxRank) {
		return 0, ErrUnauthorized
	}
	names := ParseRoleNames(raw)
	if len(names) == 0 {
		return 0, ErrInvalidRoleNames
	}
	if err := s.store.SetRoleNames(ctx, conversation, names); err != nil {
		s.logError(opRenameRoles, "store_failed", err, conversation, actor)
		return 0, newServiceError(opRenameRoles, "store_failed", err)
	}
	return len(names), nil
}

// ParseRoleNames reads comma separated rank:name pairs. Malformed pairs and
// out of range ranks are skipped.
func ParseRoleNames(raw string) map[Rank]string {
	names := make(map[Rank]string)
	for _, part := range strings.Split(raw, ",") {
		index, name, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(index))
		if err != nil {
			continue
		}
		rank := Rank(value)
		name = strings.TrimSpace(name)
		if !rank.Valid() || name == "" || len(name) > maxRoleNameLength {
			continue
		}
		names[rank] = name
	}
	return names
}

func (s *Service) logError(operation, reason string, err error, conversation chat.ConversationID, actor chat.ActorID) {
	s.logger.Error("roles service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("conversation_id", conversation.String()),
		zap.String("actor_id", actor.String()),
		zap.Error(err))
}
