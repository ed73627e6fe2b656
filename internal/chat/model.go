package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidConversationID indicates that a conversation identifier is empty or exceeds storage bounds.
	ErrInvalidConversationID = errors.New("chat: invalid conversation id")
	// ErrInvalidActorID indicates that an actor identifier is empty or exceeds storage bounds.
	ErrInvalidActorID = errors.New("chat: invalid actor id")
)

// ConversationID identifies a group conversation on the chat platform.
type ConversationID string

// NewConversationID validates raw input and returns a ConversationID.
func NewConversationID(rawInput string) (ConversationID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConversationID, err)
	}
	return ConversationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ConversationID) String() string {
	return string(id)
}

// ActorID identifies a platform user.
type ActorID string

// NewActorID validates raw input and returns an ActorID.
func NewActorID(rawInput string) (ActorID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidActorID, err)
	}
	return ActorID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ActorID) String() string {
	return string(id)
}

// MessageID identifies a message inside a conversation.
type MessageID string

// String returns the underlying string identifier.
func (id MessageID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errors.New("empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("exceeds %d characters", maxIdentifierLength)
	}
	return trimmed, nil
}

// Actor is the platform user behind a message or callback.
type Actor struct {
	ID          ActorID
	DisplayName string
}

// Name returns the display name, falling back to the identifier.
func (a Actor) Name() string {
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		return name
	}
	return a.ID.String()
}

// Message is an inbound text message.
type Message struct {
	ID           MessageID
	Conversation ConversationID
	Sender       Actor
	Text         string
	ReplyTo      *Message
	SentAt       time.Time
}

// IsCommand reports whether the message is a slash command.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}

// Command splits a slash command into its lowercased name and arguments.
// Bot mentions such as /setrole@warden_bot are stripped from the name.
func (m Message) Command() (string, []string) {
	if !m.IsCommand() {
		return "", nil
	}
	fields := strings.Fields(strings.TrimSpace(m.Text))
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

// Callback is an interaction event carrying an opaque payload, usually a button press.
type Callback struct {
	ID           string
	Conversation ConversationID
	Actor        Actor
	MessageID    MessageID
	Payload      string
}

// MemberJoined announces a new conversation member.
type MemberJoined struct {
	Conversation ConversationID
	Member       Actor
}

// EventKind enumerates inbound event variants.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventCallback     EventKind = "callback"
	EventMemberJoined EventKind = "member_joined"
)

// Event is the envelope handed to the dispatcher. Exactly one payload field is set.
type Event struct {
	Kind         EventKind
	Message      *Message
	Callback     *Callback
	MemberJoined *MemberJoined
	ReceivedAt   time.Time
}

// MemberStatus is the platform-native membership status of an actor.
type MemberStatus string

const (
	MemberStatusCreator       MemberStatus = "creator"
	MemberStatusAdministrator MemberStatus = "administrator"
	MemberStatusMember        MemberStatus = "member"
	MemberStatusRestricted    MemberStatus = "restricted"
	MemberStatusLeft          MemberStatus = "left"
	MemberStatusKicked        MemberStatus = "kicked"
)

// IsAdministrator reports whether the status grants conversation administration.
func (s MemberStatus) IsAdministrator() bool {
	return s == MemberStatusCreator || s == MemberStatusAdministrator
}

// MediaKind selects the upload flavour used for an artifact.
type MediaKind string

const (
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Choice is a selectable button attached to a prompt.
type Choice struct {
	Label   string
	Payload string
}
