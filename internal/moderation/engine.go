package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	"go.uber.org/zap"
)

// WarnThreshold is the warning count that converts into a ban.
const WarnThreshold = 3

var (
	// ErrInvalidTarget indicates a keyword without a usable reply target. It is never reported to users.
	ErrInvalidTarget = errors.New("moderation: invalid target")
	// ErrPlatformEffectFailed indicates the platform rejected a restriction, ban or unban.
	ErrPlatformEffectFailed = errors.New("moderation: platform effect failed")

	errMissingPlatform   = errors.New("moderation: platform is required")
	errMissingAuthorizer = errors.New("moderation: authorizer is required")
	errMissingWarnStore  = errors.New("moderation: warn store is required")
)

// Authorizer gates moderation on a minimum rank.
type Authorizer interface {
	Authorize(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, minRank roles.Rank) bool
}

// EngineConfig describes the dependencies of the moderation engine.
type EngineConfig struct {
	Platform   chat.Platform
	Authorizer Authorizer
	Warns      WarnStore
	Publisher  Publisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Engine applies moderation actions requested by replying to a message.
type Engine struct {
	platform   chat.Platform
	authorizer Authorizer
	warns      WarnStore
	publisher  Publisher
	clock      func() time.Time
	logger     *zap.Logger
}

// NewEngine validates dependencies and constructs the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Platform == nil {
		return nil, errMissingPlatform
	}
	if cfg.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if cfg.Warns == nil {
		return nil, errMissingWarnStore
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		platform:   cfg.Platform,
		authorizer: cfg.Authorizer,
		warns:      cfg.Warns,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Request is a recognized moderation keyword. Message is the keyword message
// itself, Target the author of the message it replied to.
type Request struct {
	Conversation chat.ConversationID
	Message      chat.MessageID
	Actor        chat.Actor
	Target       *chat.Actor
	Action       Action
}

// Outcome is the single user-visible result of a request.
type Outcome struct {
	Status Status
	Text   string
	// Err is set for unauthorized and failed outcomes.
	Err error
}

// Handle authorizes and applies the request, then posts exactly one outcome
// message. Requests without a valid target are ignored silently.
func (e *Engine) Handle(ctx context.Context, request Request) Outcome {
	if request.Target == nil || request.Target.ID == "" || request.Target.ID == request.Actor.ID || request.Action == nil {
		return Outcome{Status: StatusIgnored, Err: ErrInvalidTarget}
	}

	var outcome Outcome
	if !e.authorizer.Authorize(ctx, request.Actor.ID, request.Conversation, roles.RankModerator) {
		outcome = Outcome{
			Status: StatusUnauthorized,
			Text:   "You need a moderator rank or administrator rights to do that.",
			Err:    roles.ErrUnauthorized,
		}
	} else {
		outcome = e.apply(ctx, request)
	}

	if _, err := e.platform.SendText(ctx, request.Conversation, request.Message, outcome.Text); err != nil {
		e.logger.Warn("moderation reply failed",
			zap.String("conversation_id", request.Conversation.String()),
			zap.Error(err))
	}
	e.publisher.Publish(Report{
		Conversation: request.Conversation,
		Actor:        request.Actor.ID,
		Target:       request.Target.ID,
		Action:       request.Action.Name(),
		Status:       outcome.Status,
		Text:         outcome.Text,
		At:           e.clock().UTC(),
	})
	return outcome
}

func (e *Engine) apply(ctx context.Context, request Request) Outcome {
	target := *request.Target
	conversation := request.Conversation

	switch action := request.Action.(type) {
	case Warn:
		return e.warn(ctx, conversation, target)
	case Mute:
		duration := action.Duration
		if duration <= 0 {
			duration = DefaultMuteDuration
		}
		if err := e.platform.Restrict(ctx, conversation, target.ID, e.clock().Add(duration)); err != nil {
			return e.failed(action, conversation, target, err)
		}
		return applied(fmt.Sprintf("🔇 %s muted for %s.", target.Name(), formatMinutes(duration)))
	case Unmute:
		if err := e.platform.Unrestrict(ctx, conversation, target.ID); err != nil {
			return e.failed(action, conversation, target, err)
		}
		return applied(fmt.Sprintf("🔊 %s unmuted.", target.Name()))
	case Ban:
		if err := e.platform.Ban(ctx, conversation, target.ID); err != nil {
			return e.failed(action, conversation, target, err)
		}
		return applied(fmt.Sprintf("🚫 %s banned.", target.Name()))
	case Unban:
		if err := e.platform.Unban(ctx, conversation, target.ID); err != nil {
			return e.failed(action, conversation, target, err)
		}
		return applied(fmt.Sprintf("✅ %s unbanned.", target.Name()))
	default:
		return Outcome{Status: StatusIgnored, Err: ErrInvalidTarget}
	}
}

// warn increments the counter and converts the threshold into a ban. The
// counter is reset only once the ban has been applied, so a rejected ban is
// retried by the next warning.
func (e *Engine) warn(ctx context.Context, conversation chat.ConversationID, target chat.Actor) Outcome {
	count, err := e.warns.Increment(ctx, conversation, target.ID)
	if err != nil {
		return e.failed(Warn{}, conversation, target, err)
	}
	if count < WarnThreshold {
		return applied(fmt.Sprintf("⚠️ %s warned (%d/%d).", target.Name(), count, WarnThreshold))
	}
	if err := e.platform.Ban(ctx, conversation, target.ID); err != nil {
		return e.failed(Ban{}, conversation, target, err)
	}
	if err := e.warns.Reset(ctx, conversation, target.ID); err != nil {
		e.logger.Error("warn counter reset failed",
			zap.String("conversation_id", conversation.String()),
			zap.String("actor_id", target.ID.String()),
			zap.Error(err))
	}
	return applied(fmt.Sprintf("🚫 %s banned after %d warnings.", target.Name(), WarnThreshold))
}

func (e *Engine) failed(action Action, conversation chat.ConversationID, target chat.Actor, cause error) Outcome {
	e.logger.Warn("moderation effect failed",
		zap.String("conversation_id", conversation.String()),
		zap.String("target_id", target.ID.String()),
		zap.String("action", action.Name()),
		zap.Error(cause))
	return Outcome{
		Status: StatusFailed,
		Text:   fmt.Sprintf("Moderation failed: could not %s %s.", action.Name(), target.Name()),
		Err:    fmt.Errorf("%w: %s: %v", ErrPlatformEffectFailed, action.Name(), cause),
	}
}

func applied(text string) Outcome {
	return Outcome{Status: StatusApplied, Text: text}
}

func formatMinutes(duration time.Duration) string {
	minutes := int(duration.Round(time.Minute) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
