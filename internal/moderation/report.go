package moderation

import (
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
)

// Status classifies the result of a moderation invocation.
type Status string

const (
	StatusApplied      Status = "applied"
	StatusUnauthorized Status = "unauthorized"
	StatusFailed       Status = "failed"
	StatusIgnored      Status = "ignored"
)

// Report describes one enforcement outcome for audit consumers.
type Report struct {
	Conversation chat.ConversationID
	Actor        chat.ActorID
	Target       chat.ActorID
	Action       string
	Status       Status
	Text         string
	At           time.Time
}

// Publisher receives enforcement reports. Publish must not block.
type Publisher interface {
	Publish(report Report)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Report) {}
