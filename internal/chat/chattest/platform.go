// Package chattest provides an in-memory chat.Platform that records effects for tests.
package chattest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
)

// Effect is a single recorded platform call.
type Effect struct {
	Method       string
	Conversation chat.ConversationID
	Actor        chat.ActorID
	Message      chat.MessageID
	Text         string
	Choices      []chat.Choice
	Until        time.Time
	Kind         chat.MediaKind
	Path         string
	// Exists reports whether an uploaded file was present at upload time.
	Exists bool
}

// Platform records every call. Per-method failures are injected through Failures.
type Platform struct {
	mu       sync.Mutex
	effects  []Effect
	nextID   int
	statuses map[chat.ActorID]chat.MemberStatus
	failures map[string]error
}

// NewPlatform constructs an empty recording platform.
func NewPlatform() *Platform {
	return &Platform{
		statuses: make(map[chat.ActorID]chat.MemberStatus),
		failures: make(map[string]error),
	}
}

// SetStatus configures the member status returned for an actor.
func (p *Platform) SetStatus(actor chat.ActorID, status chat.MemberStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[actor] = status
}

// Fail makes every subsequent call to method return err.
func (p *Platform) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
}

// Effects returns a copy of the recorded calls.
func (p *Platform) Effects() []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := make([]Effect, len(p.effects))
	copy(copied, p.effects)
	return copied
}

// EffectsOf returns the recorded calls for one method.
func (p *Platform) EffectsOf(method string) []Effect {
	var filtered []Effect
	for _, effect := range p.Effects() {
		if effect.Method == method {
			filtered = append(filtered, effect)
		}
	}
	return filtered
}

// Texts returns the text of every SendText and EditText call in order.
func (p *Platform) Texts() []string {
	var texts []string
	for _, effect := range p.Effects() {
		if effect.Method == "SendText" || effect.Method == "EditText" {
			texts = append(texts, effect.Text)
		}
	}
	return texts
}

func (p *Platform) record(effect Effect) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[effect.Method]; err != nil {
		return err
	}
	p.effects = append(p.effects, effect)
	return nil
}

func (p *Platform) newMessageID() chat.MessageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	return chat.MessageID(fmt.Sprintf("m-%d", p.nextID))
}

func (p *Platform) SendText(_ context.Context, conversation chat.ConversationID, replyTo chat.MessageID, text string) (chat.MessageID, error) {
	if err := p.record(Effect{Method: "SendText", Conversation: conversation, Message: replyTo, Text: text}); err != nil {
		return "", err
	}
	return p.newMessageID(), nil
}

func (p *Platform) SendChoices(_ context.Context, conversation chat.ConversationID, replyTo chat.MessageID, text string, choices []chat.Choice) (chat.MessageID, error) {
	if err := p.record(Effect{Method: "SendChoices", Conversation: conversation, Message: replyTo, Text: text, Choices: choices}); err != nil {
		return "", err
	}
	return p.newMessageID(), nil
}

func (p *Platform) EditText(_ context.Context, conversation chat.ConversationID, message chat.MessageID, text string) error {
	return p.record(Effect{Method: "EditText", Conversation: conversation, Message: message, Text: text})
}

func (p *Platform) DeleteMessage(_ context.Context, conversation chat.ConversationID, message chat.MessageID) error {
	return p.record(Effect{Method: "DeleteMessage", Conversation: conversation, Message: message})
}

func (p *Platform) AnswerCallback(_ context.Context, callbackID string, text string) error {
	return p.record(Effect{Method: "AnswerCallback", Message: chat.MessageID(callbackID), Text: text})
}

func (p *Platform) Restrict(_ context.Context, conversation chat.ConversationID, actor chat.ActorID, until time.Time) error {
	return p.record(Effect{Method: "Restrict", Conversation: conversation, Actor: actor, Until: until})
}

func (p *Platform) Unrestrict(_ context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	return p.record(Effect{Method: "Unrestrict", Conversation: conversation, Actor: actor})
}

func (p *Platform) Ban(_ context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	return p.record(Effect{Method: "Ban", Conversation: conversation, Actor: actor})
}

func (p *Platform) Unban(_ context.Context, conversation chat.ConversationID, actor chat.ActorID) error {
	return p.record(Effect{Method: "Unban", Conversation: conversation, Actor: actor})
}

func (p *Platform) MemberStatus(_ context.Context, _ chat.ConversationID, actor chat.ActorID) (chat.MemberStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["MemberStatus"]; err != nil {
		return "", err
	}
	if status, ok := p.statuses[actor]; ok {
		return status, nil
	}
	return chat.MemberStatusMember, nil
}

func (p *Platform) UploadMedia(_ context.Context, conversation chat.ConversationID, kind chat.MediaKind, path string) error {
	_, statErr := os.Stat(path)
	method := "Upload:" + string(kind)
	p.mu.Lock()
	err := p.failures[method]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.record(Effect{Method: "UploadMedia", Conversation: conversation, Kind: kind, Path: path, Exists: statErr == nil})
}
