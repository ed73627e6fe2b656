package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"go.uber.org/zap"
)

const (
	// FloodWindow is the trailing interval inspected by the rate check.
	FloodWindow = 10 * time.Second
	// FloodLimit is the number of messages tolerated inside the window.
	FloodLimit = 6
	// FloodRestriction is how long a flooding sender is restricted.
	FloodRestriction = time.Minute

	filterNotice = "Message removed: banned language."
	floodNotice  = "Anti-flood: %s is muted for 1 minute."
)

var (
	errMissingPlatform = errors.New("gate: platform is required")
	errMissingSettings = errors.New("gate: filter settings are required")
)

// FilterSettings reports whether a conversation opted in to content filtering.
type FilterSettings interface {
	FilterEnabled(ctx context.Context, conversation chat.ConversationID) (bool, error)
}

// Config describes the dependencies of the gate.
type Config struct {
	Platform  chat.Platform
	Settings  FilterSettings
	Filter    *ContentFilter
	Publisher moderation.Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Gate runs the content filter and the flood check on plain-text messages.
type Gate struct {
	platform  chat.Platform
	settings  FilterSettings
	filter    *ContentFilter
	flood     *FloodTracker
	publisher moderation.Publisher
	clock     func() time.Time
	logger    *zap.Logger
}

// Verdict is the result of inspecting one message.
type Verdict struct {
	// Suppressed means the message was deleted and must not reach other handlers.
	Suppressed bool
	// Restricted means the sender was throttled by the flood check.
	Restricted bool
	// WindowSize is the number of messages in the sender's flood window after recording.
	WindowSize int
}

// New validates dependencies and constructs a gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Platform == nil {
		return nil, errMissingPlatform
	}
	if cfg.Settings == nil {
		return nil, errMissingSettings
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = discardReports{}
	}
	return &Gate{
		platform:  cfg.Platform,
		settings:  cfg.Settings,
		filter:    cfg.Filter,
		flood:     NewFloodTracker(FloodWindow),
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Inspect records the message in the sender's flood window, then applies the
// content filter and finally the rate check. The timestamp is recorded before
// filtering so deleted messages still count towards the flood limit.
func (g *Gate) Inspect(ctx context.Context, message chat.Message) Verdict {
	now := message.SentAt
	if now.IsZero() {
		now = g.clock()
	}
	verdict := Verdict{WindowSize: g.flood.Record(message.Conversation, message.Sender.ID, now)}

	if g.filtered(ctx, message) {
		verdict.Suppressed = true
		return verdict
	}

	if verdict.WindowSize > FloodLimit {
		verdict.Restricted = g.restrict(ctx, message, now)
	}
	return verdict
}

func (g *Gate) filtered(ctx context.Context, message chat.Message) bool {
	if g.filter.Empty() {
		return false
	}
	enabled, err := g.settings.FilterEnabled(ctx, message.Conversation)
	if err != nil {
		g.logger.Warn("filter settings lookup failed",
			zap.String("conversation_id", message.Conversation.String()),
			zap.Error(err))
		return false
	}
	if !enabled {
		return false
	}
	term, matched := g.filter.Match(message.Text)
	if !matched {
		return false
	}

	if err := g.platform.DeleteMessage(ctx, message.Conversation, message.ID); err != nil {
		g.logger.Warn("filtered message deletion failed",
			zap.String("conversation_id", message.Conversation.String()),
			zap.String("message_id", message.ID.String()),
			zap.Error(err))
	}
	if _, err := g.platform.SendText(ctx, message.Conversation, "", filterNotice); err != nil {
		g.logger.Warn("filter notice failed", zap.Error(err))
	}
	g.logger.Info("message filtered",
		zap.String("conversation_id", message.Conversation.String()),
		zap.String("actor_id", message.Sender.ID.String()),
		zap.String("term", term))
	g.publish(message, "filter", moderation.StatusApplied, filterNotice)
	return true
}

func (g *Gate) restrict(ctx context.Context, message chat.Message, now time.Time) bool {
	if err := g.platform.Restrict(ctx, message.Conversation, message.Sender.ID, now.Add(FloodRestriction)); err != nil {
		g.logger.Warn("flood restriction failed",
			zap.String("conversation_id", message.Conversation.String()),
			zap.String("actor_id", message.Sender.ID.String()),
			zap.Error(err))
		g.publish(message, "flood", moderation.StatusFailed, "")
		return false
	}
	g.flood.Clear(message.Conversation, message.Sender.ID)

	notice := fmt.Sprintf(floodNotice, message.Sender.Name())
	if _, err := g.platform.SendText(ctx, message.Conversation, message.ID, notice); err != nil {
		g.logger.Warn("flood notice failed", zap.Error(err))
	}
	g.publish(message, "flood", moderation.StatusApplied, notice)
	return true
}

func (g *Gate) publish(message chat.Message, action string, status moderation.Status, text string) {
	g.publisher.Publish(moderation.Report{
		Conversation: message.Conversation,
		Target:       message.Sender.ID,
		Action:       action,
		Status:       status,
		Text:         text,
		At:           g.clock().UTC(),
	})
}

type discardReports struct{}

func (discardReports) Publish(moderation.Report) {}
