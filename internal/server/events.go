package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
)

const maxReplyDepth = 1

var errUnknownEventKind = errors.New("unknown event kind")

type actorPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type messagePayload struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Sender         actorPayload    `json:"sender"`
	Text           string          `json:"text"`
	ReplyTo        *messagePayload `json:"reply_to"`
	SentAt         *time.Time      `json:"sent_at"`
}

type callbackPayload struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Actor          actorPayload `json:"actor"`
	MessageID      string       `json:"message_id"`
	Payload        string       `json:"payload"`
}

type memberJoinedPayload struct {
	ConversationID string       `json:"conversation_id"`
	Member         actorPayload `json:"member"`
}

// eventRequestPayload is the JSON envelope accepted by POST /events.
type eventRequestPayload struct {
	Kind         string               `json:"kind"`
	Message      *messagePayload      `json:"message"`
	Callback     *callbackPayload     `json:"callback"`
	MemberJoined *memberJoinedPayload `json:"member_joined"`
}

func (p eventRequestPayload) toEvent() (chat.Event, error) {
	switch chat.EventKind(p.Kind) {
	case chat.EventMessage:
		if p.Message == nil {
			return chat.Event{}, errors.New("message payload missing")
		}
		message, err := p.Message.toMessage(0)
		if err != nil {
			return chat.Event{}, err
		}
		return chat.Event{Kind: chat.EventMessage, Message: &message}, nil
	case chat.EventCallback:
		if p.Callback == nil {
			return chat.Event{}, errors.New("callback payload missing")
		}
		callback, err := p.Callback.toCallback()
		if err != nil {
			return chat.Event{}, err
		}
		return chat.Event{Kind: chat.EventCallback, Callback: &callback}, nil
	case chat.EventMemberJoined:
		if p.MemberJoined == nil {
			return chat.Event{}, errors.New("member_joined payload missing")
		}
		conversation, err := chat.NewConversationID(p.MemberJoined.ConversationID)
		if err != nil {
			return chat.Event{}, err
		}
		member, err := p.MemberJoined.Member.toActor()
		if err != nil {
			return chat.Event{}, err
		}
		return chat.Event{Kind: chat.EventMemberJoined, MemberJoined: &chat.MemberJoined{Conversation: conversation, Member: member}}, nil
	default:
		return chat.Event{}, fmt.Errorf("%w: %q", errUnknownEventKind, p.Kind)
	}
}

func (p messagePayload) toMessage(depth int) (chat.Message, error) {
	conversation, err := chat.NewConversationID(p.ConversationID)
	if err != nil {
		return chat.Message{}, err
	}
	sender, err := p.Sender.toActor()
	if err != nil {
		return chat.Message{}, err
	}
	message := chat.Message{
		ID:           chat.MessageID(p.ID),
		Conversation: conversation,
		Sender:       sender,
		Text:         p.Text,
	}
	if p.SentAt != nil {
		message.SentAt = p.SentAt.UTC()
	}
	if p.ReplyTo != nil && depth < maxReplyDepth {
		if p.ReplyTo.ConversationID == "" {
			p.ReplyTo.ConversationID = p.ConversationID
		}
		reply, err := p.ReplyTo.toMessage(depth + 1)
		if err != nil {
			return chat.Message{}, fmt.Errorf("reply_to: %w", err)
		}
		message.ReplyTo = &reply
	}
	return message, nil
}

func (p callbackPayload) toCallback() (chat.Callback, error) {
	conversation, err := chat.NewConversationID(p.ConversationID)
	if err != nil {
		return chat.Callback{}, err
	}
	actor, err := p.Actor.toActor()
	if err != nil {
		return chat.Callback{}, err
	}
	return chat.Callback{
		ID:           p.ID,
		Conversation: conversation,
		Actor:        actor,
		MessageID:    chat.MessageID(p.MessageID),
		Payload:      p.Payload,
	}, nil
}

func (p actorPayload) toActor() (chat.Actor, error) {
	id, err := chat.NewActorID(p.ID)
	if err != nil {
		return chat.Actor{}, err
	}
	return chat.Actor{ID: id, DisplayName: p.DisplayName}, nil
}
