package session

import (
	"sync"
	"testing"
	"time"
)

type broadcastRecord struct {
	Room     string
	SenderID string
	Event    string
	Payload  any
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	records []broadcastRecord
}

func (b *recordingBroadcaster) Broadcast(room, senderID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, broadcastRecord{Room: room, SenderID: senderID, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) named(event string) []broadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []broadcastRecord
	for _, record := range b.records {
		if record.Event == event {
			matched = append(matched, record)
		}
	}
	return matched
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, broadcaster Broadcaster, clock *manualClock) *Registry {
	t.Helper()
	registry, err := NewRegistry(Config{
		Broadcaster: broadcaster,
		Clock:       clock.Now,
		StaleAfter:  30 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry
}
