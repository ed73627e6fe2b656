// Package bot routes inbound chat events to the gate, the moderation engine,
// the rank commands and the download flow on a single serial goroutine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/downloads"
	"github.com/MarcoPoloResearchLab/warden/internal/gate"
	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

var (
	// ErrDispatcherStopped is returned by Submit once Run has returned.
	ErrDispatcherStopped = errors.New("bot: dispatcher stopped")
	// ErrInvalidEvent indicates an envelope whose payload does not match its kind.
	ErrInvalidEvent = errors.New("bot: invalid event")

	errMissingPlatform   = errors.New("bot: platform is required")
	errMissingGate       = errors.New("bot: gate is required")
	errMissingModeration = errors.New("bot: moderation engine is required")
	errMissingRoles      = errors.New("bot: role service is required")
	errMissingAuthorizer = errors.New("bot: authorizer is required")
	errMissingSettings   = errors.New("bot: filter settings are required")
	errMissingDownloads  = errors.New("bot: download manager is required")
)

// MessageGate inspects plain-text messages before any other handler.
type MessageGate interface {
	Inspect(ctx context.Context, message chat.Message) gate.Verdict
}

// ModerationEngine applies keyword actions.
type ModerationEngine interface {
	Handle(ctx context.Context, request moderation.Request) moderation.Outcome
}

// RoleAdministration is the rank surface exposed through commands.
type RoleAdministration interface {
	AssignRank(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, target chat.ActorID, value int) (roles.Rank, error)
	RemoveRank(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, target chat.ActorID) error
	DescribeRank(ctx context.Context, conversation chat.ConversationID, target chat.ActorID) (roles.Rank, string, error)
	RoleName(ctx context.Context, conversation chat.ConversationID, rank roles.Rank) string
	RenameRoles(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, raw string) (int, error)
}

// Authorizer gates commands on a minimum rank.
type Authorizer interface {
	Authorize(ctx context.Context, actor chat.ActorID, conversation chat.ConversationID, minRank roles.Rank) bool
}

// FilterToggle switches the content filter opt-in of a conversation.
type FilterToggle interface {
	SetFilterEnabled(ctx context.Context, conversation chat.ConversationID, enabled bool) error
}

// DownloadFlow creates and confirms download sessions.
type DownloadFlow interface {
	Create(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID, request chat.MessageID, sourceURL string) (downloads.Session, error)
	Confirm(ctx context.Context, sessionID string, format downloads.Format, actor chat.ActorID) (*downloads.Job, error)
	Wait()
}

// Config describes the dependencies of the dispatcher.
type Config struct {
	Platform   chat.Platform
	Gate       MessageGate
	Moderation ModerationEngine
	Roles      RoleAdministration
	Authorizer Authorizer
	Settings   FilterToggle
	Downloads  DownloadFlow
	QueueSize  int
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Dispatcher owns the serial event loop. Gate state and warn counters are only
// touched from the Run goroutine, so events for one sender apply in arrival order.
type Dispatcher struct {
	platform   chat.Platform
	gate       MessageGate
	moderation ModerationEngine
	roles      RoleAdministration
	authorizer Authorizer
	settings   FilterToggle
	downloads  DownloadFlow
	clock      func() time.Time
	logger     *zap.Logger

	events  chan chat.Event
	stopped chan struct{}
}

// New validates dependencies and constructs a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Platform == nil:
		return nil, errMissingPlatform
	case cfg.Gate == nil:
		return nil, errMissingGate
	case cfg.Moderation == nil:
		return nil, errMissingModeration
	case cfg.Roles == nil:
		return nil, errMissingRoles
	case cfg.Authorizer == nil:
		return nil, errMissingAuthorizer
	case cfg.Settings == nil:
		return nil, errMissingSettings
	case cfg.Downloads == nil:
		return nil, errMissingDownloads
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		platform:   cfg.Platform,
		gate:       cfg.Gate,
		moderation: cfg.Moderation,
		roles:      cfg.Roles,
		authorizer: cfg.Authorizer,
		settings:   cfg.Settings,
		downloads:  cfg.Downloads,
		clock:      clock,
		logger:     logger,
		events:     make(chan chat.Event, queueSize),
		stopped:    make(chan struct{}),
	}, nil
}

// Submit enqueues an event, blocking while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, event chat.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = d.clock().UTC()
	}
	select {
	case <-d.stopped:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.events <- event:
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled, then waits for in-flight
// download jobs before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	defer func() {
		close(d.stopped)
		d.downloads.Wait()
		d.logger.Info("dispatcher stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-d.events:
			d.Dispatch(ctx, event)
		}
	}
}

// Dispatch handles one event synchronously. A panicking handler is logged and
// the loop continues with the next event.
func (d *Dispatcher) Dispatch(ctx context.Context, event chat.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("event handler panicked",
				zap.String("kind", string(event.Kind)),
				zap.String("panic", fmt.Sprint(recovered)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	switch event.Kind {
	case chat.EventMessage:
		if event.Message != nil {
			d.handleMessage(ctx, *event.Message)
		}
	case chat.EventCallback:
		if event.Callback != nil {
			d.handleCallback(ctx, *event.Callback)
		}
	case chat.EventMemberJoined:
		if event.MemberJoined != nil {
			d.logger.Info("member joined",
				zap.String("conversation_id", event.MemberJoined.Conversation.String()),
				zap.String("actor_id", event.MemberJoined.Member.ID.String()))
		}
	default:
		d.logger.Debug("ignoring unknown event", zap.String("kind", string(event.Kind)))
	}
}

func validateEvent(event chat.Event) error {
	switch event.Kind {
	case chat.EventMessage:
		if event.Message == nil || event.Message.Conversation == "" || event.Message.Sender.ID == "" {
			return fmt.Errorf("%w: message payload missing", ErrInvalidEvent)
		}
	case chat.EventCallback:
		if event.Callback == nil || event.Callback.Actor.ID == "" {
			return fmt.Errorf("%w: callback payload missing", ErrInvalidEvent)
		}
	case chat.EventMemberJoined:
		if event.MemberJoined == nil || event.MemberJoined.Member.ID == "" {
			return fmt.Errorf("%w: member payload missing", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, event.Kind)
	}
	return nil
}
