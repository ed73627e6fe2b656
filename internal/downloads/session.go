package downloads

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
)

const payloadTag = "dl"

var (
	// ErrSessionNotFound indicates an unknown, consumed or expired session id.
	ErrSessionNotFound = errors.New("downloads: session not found")
	// ErrSessionUnauthorized indicates a confirmation from someone other than the creator.
	ErrSessionUnauthorized = errors.New("downloads: session belongs to another actor")
	// ErrDownloadFailed indicates that every provider failed or the job timed out.
	ErrDownloadFailed = errors.New("downloads: download failed")
	// ErrOversizeArtifact indicates an artifact above the upload ceiling.
	ErrOversizeArtifact = errors.New("downloads: artifact exceeds upload ceiling")
	// ErrUploadFailed indicates that both the typed and the document upload were rejected.
	ErrUploadFailed = errors.New("downloads: upload failed")
	// ErrInvalidPayload indicates a callback payload that is not a download choice.
	ErrInvalidPayload = errors.New("downloads: invalid callback payload")
	// ErrInvalidFormat indicates an unknown format token.
	ErrInvalidFormat = errors.New("downloads: invalid format")
)

// Format is the delivery flavour chosen by the requester.
type Format string

const (
	FormatVideo  Format = "video"
	FormatAudio  Format = "audio"
	FormatCancel Format = "cancel"
)

// ParseFormat validates a format token.
func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case FormatVideo, FormatAudio, FormatCancel:
		return format, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
}

// MediaKind maps the format to the upload kind.
func (f Format) MediaKind() chat.MediaKind {
	if f == FormatAudio {
		return chat.MediaAudio
	}
	return chat.MediaVideo
}

// Session is a pending download awaiting its creator's format choice.
type Session struct {
	ID            string
	SourceURL     string
	Actor         chat.ActorID
	Conversation  chat.ConversationID
	RequestID     chat.MessageID
	PromptMessage chat.MessageID
	CreatedAt     time.Time
}

// State is the terminal outcome of a confirmed session. Pending sessions are
// the ones still held by the SessionStore.
type State string

const (
	StateDelivered State = "delivered"
	StateRejected  State = "rejected"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// EncodePayload builds the callback payload bound to a session choice.
func EncodePayload(sessionID string, format Format) string {
	return strings.Join([]string{payloadTag, sessionID, string(format)}, "|")
}

// IsPayload reports whether a callback payload belongs to the download flow.
func IsPayload(payload string) bool {
	return strings.HasPrefix(payload, payloadTag+"|")
}

// ParsePayload splits a callback payload into session id and format.
func ParsePayload(payload string) (string, Format, error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 || parts[0] != payloadTag || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
	format, err := ParseFormat(parts[2])
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return parts[1], format, nil
}

func promptChoices(sessionID string) []chat.Choice {
	return []chat.Choice{
		{Label: "📹 Video", Payload: EncodePayload(sessionID, FormatVideo)},
		{Label: "🎧 Audio (MP3)", Payload: EncodePayload(sessionID, FormatAudio)},
		{Label: "❌ Cancel", Payload: EncodePayload(sessionID, FormatCancel)},
	}
}
