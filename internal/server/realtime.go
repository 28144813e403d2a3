package server

import (
	"context"
	"sync"
	"time"
)

// RoomMessage is one named event addressed to a room. The sender never
// receives their own message back.
type RoomMessage struct {
	Room      string
	SenderID  string
	Event     string
	Payload   any
	Timestamp time.Time
}

// RoomDispatcher fans room-scoped events out to subscribed connections. It is
// the in-process realtime channel: rooms are project or file keys, and
// delivery order per room follows publish order. Slow subscribers drop
// messages rather than stall the dispatcher.
type RoomDispatcher struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]*roomSubscriber
	nextID     int64
	bufferSize int
}

type roomSubscriber struct {
	id       int64
	clientID string
	stream   chan RoomMessage
}

// NewRoomDispatcher constructs an empty dispatcher.
func NewRoomDispatcher() *RoomDispatcher {
	return &RoomDispatcher{
		rooms:      make(map[string]map[int64]*roomSubscriber),
		bufferSize: 32,
	}
}

// Subscribe registers the client in a room and returns its message stream.
// The subscription ends when the context is cancelled or cleanup is called.
func (d *RoomDispatcher) Subscribe(ctx context.Context, room, clientID string) (<-chan RoomMessage, func()) {
	if room == "" {
		ch := make(chan RoomMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &roomSubscriber{
		id:       d.nextSequence(),
		clientID: clientID,
		stream:   make(chan RoomMessage, d.bufferSize),
	}
	d.registerSubscriber(room, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(room, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every room subscriber except the sender.
func (d *RoomDispatcher) Publish(message RoomMessage) {
	if message.Room == "" || message.Event == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.rooms[message.Room]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*roomSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		if subscriber.clientID != "" && subscriber.clientID == message.SenderID {
			continue
		}
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Broadcast adapts Publish to the session layer's realtime channel interface.
func (d *RoomDispatcher) Broadcast(room, senderID, event string, payload any) {
	d.Publish(RoomMessage{
		Room:      room,
		SenderID:  senderID,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func (d *RoomDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RoomDispatcher) registerSubscriber(room string, subscriber *roomSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[room]; !ok {
		d.rooms[room] = make(map[int64]*roomSubscriber)
	}
	d.rooms[room][subscriber.id] = subscriber
}

func (d *RoomDispatcher) unregisterSubscriber(room string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.rooms[room]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.rooms, room)
		}
	}
	d.mu.Unlock()
}
