package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
)

const (
	FeedEventModeration = "moderation"
	feedEventHeartbeat  = "heartbeat"
	feedSourceBackend   = "warden"
)

// ModerationFeed fans enforcement reports out to per-conversation subscribers.
// Publish never blocks; slow subscribers drop reports.
type ModerationFeed struct {
	mu          sync.RWMutex
	subscribers map[chat.ConversationID]map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan moderation.Report
}

func NewModerationFeed() *ModerationFeed {
	return &ModerationFeed{
		subscribers: make(map[chat.ConversationID]map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a subscriber for one conversation until ctx ends or cleanup runs.
func (f *ModerationFeed) Subscribe(ctx context.Context, conversation chat.ConversationID) (<-chan moderation.Report, func()) {
	if conversation == "" {
		ch := make(chan moderation.Report)
		close(ch)
		return ch, func() {}
	}
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan moderation.Report, f.bufferSize),
	}
	f.registerSubscriber(conversation, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { f.unregisterSubscriber(conversation, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements moderation.Publisher.
func (f *ModerationFeed) Publish(report moderation.Report) {
	if report.Conversation == "" || report.Action == "" {
		return
	}
	f.mu.RLock()
	subscribers := f.subscribers[report.Conversation]
	if len(subscribers) == 0 {
		f.mu.RUnlock()
		return
	}
	copies := make([]*feedSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- report:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers of a conversation.
func (f *ModerationFeed) Subscribers(conversation chat.ConversationID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers[conversation])
}

func (f *ModerationFeed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *ModerationFeed) registerSubscriber(conversation chat.ConversationID, subscriber *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[conversation]; !ok {
		f.subscribers[conversation] = make(map[int64]*feedSubscriber)
	}
	f.subscribers[conversation][subscriber.id] = subscriber
}

func (f *ModerationFeed) unregisterSubscriber(conversation chat.ConversationID, subscriberID int64) {
	f.mu.Lock()
	subscribers := f.subscribers[conversation]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(f.subscribers, conversation)
		}
	}
	f.mu.Unlock()
}

var _ moderation.Publisher = (*ModerationFeed)(nil)
