package chat

import (
	"context"
	"time"
)

// Platform is the outbound surface of the chat platform. Implementations must be
// safe for concurrent use because download jobs deliver from worker goroutines.
type Platform interface {
	SendText(ctx context.Context, conversation ConversationID, replyTo MessageID, text string) (MessageID, error)
	SendChoices(ctx context.Context, conversation ConversationID, replyTo MessageID, text string, choices []Choice) (MessageID, error)
	EditText(ctx context.Context, conversation ConversationID, message MessageID, text string) error
	DeleteMessage(ctx context.Context, conversation ConversationID, message MessageID) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// Restrict prevents the actor from sending messages until the given instant.
	Restrict(ctx context.Context, conversation ConversationID, actor ActorID, until time.Time) error
	Unrestrict(ctx context.Context, conversation ConversationID, actor ActorID) error
	Ban(ctx context.Context, conversation ConversationID, actor ActorID) error
	Unban(ctx context.Context, conversation ConversationID, actor ActorID) error
	MemberStatus(ctx context.Context, conversation ConversationID, actor ActorID) (MemberStatus, error)

	UploadMedia(ctx context.Context, conversation ConversationID, kind MediaKind, path string) error
}
