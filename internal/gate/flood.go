package gate

import (
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
)

const sweepInterval = 256

type floodKey struct {
	conversation chat.ConversationID
	actor        chat.ActorID
}

// FloodTracker keeps the trailing message timestamps of every sender. It is
// owned by the dispatcher goroutine and is not safe for concurrent use.
type FloodTracker struct {
	window  time.Duration
	entries map[floodKey][]time.Time
	records int
}

// NewFloodTracker constructs a tracker for the given trailing window.
func NewFloodTracker(window time.Duration) *FloodTracker {
	return &FloodTracker{window: window, entries: make(map[floodKey][]time.Time)}
}

// Record drops timestamps older than the window, appends now and returns the
// number of messages inside the window.
func (f *FloodTracker) Record(conversation chat.ConversationID, actor chat.ActorID, now time.Time) int {
	key := floodKey{conversation: conversation, actor: actor}
	kept := f.trim(f.entries[key], now)
	kept = append(kept, now)
	f.entries[key] = kept

	f.records++
	if f.records%sweepInterval == 0 {
		f.sweep(now)
	}
	return len(kept)
}

// Clear forgets the window of one sender.
func (f *FloodTracker) Clear(conversation chat.ConversationID, actor chat.ActorID) {
	delete(f.entries, floodKey{conversation: conversation, actor: actor})
}

func (f *FloodTracker) trim(timestamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-f.window)
	index := 0
	for index < len(timestamps) && !timestamps[index].After(cutoff) {
		index++
	}
	return timestamps[index:]
}

func (f *FloodTracker) sweep(now time.Time) {
	for key, timestamps := range f.entries {
		if len(f.trim(timestamps, now)) == 0 {
			delete(f.entries, key)
		}
	}
}
