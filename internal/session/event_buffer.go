package session

import (
	"strconv"
	"sync"
	"time"
)

type StreamEvent struct {
	EventID   string `json:"eventId"`
	Event     string `json:"event"`
	SessionID int64  `json:"sessionId"`
	ServerTS  int64  `json:"serverTs"`
	Data      any    `json:"data"`
}

// EventBuffer retains a session's events for replay and fans them out to
// live subscribers. A subscriber that falls behind is disconnected so it can
// reconnect with its last event id instead of silently missing events.
type EventBuffer struct {
	mu       sync.Mutex
	nextID   int64
	max      int
	events   []StreamEvent
	watchers map[chan StreamEvent]struct{}
	closed   bool
}

func NewEventBuffer(max int) *EventBuffer {
	if max <= 0 {
		max = 500
	}
	return &EventBuffer{
		max:      max,
		watchers: map[chan StreamEvent]struct{}{},
	}
}

func (b *EventBuffer) Append(event string, sessionID int64, data any) StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return StreamEvent{}
	}
	b.nextID++
	ev := StreamEvent{
		EventID:   strconv.FormatInt(b.nextID, 10),
		Event:     event,
		SessionID: sessionID,
		ServerTS:  time.Now().UnixMilli(),
		Data:      data,
	}
	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
			delete(b.watchers, ch)
			close(ch)
			metricStreamDropped.Add(1)
		}
	}
	return ev
}

func (b *EventBuffer) ReplayAfter(lastEventID string) []StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replayLocked(lastEventID)
}

func (b *EventBuffer) replayLocked(lastEventID string) []StreamEvent {
	if len(b.events) == 0 {
		return nil
	}
	last, err := strconv.ParseInt(lastEventID, 10, 64)
	if lastEventID == "" || err != nil {
		out := make([]StreamEvent, len(b.events))
		copy(out, b.events)
		return out
	}
	out := make([]StreamEvent, 0, len(b.events))
	for _, ev := range b.events {
		id, _ := strconv.ParseInt(ev.EventID, 10, 64)
		if id > last {
			out = append(out, ev)
		}
	}
	return out
}

// SubscribeAfter returns the backlog after lastEventID and a channel for
// everything appended afterwards, with no gap between the two.
func (b *EventBuffer) SubscribeAfter(lastEventID string) ([]StreamEvent, chan StreamEvent) {
	ch := make(chan StreamEvent, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	replay := b.replayLocked(lastEventID)
	if b.closed {
		close(ch)
		return replay, ch
	}
	b.watchers[ch] = struct{}{}
	return replay, ch
}

func (b *EventBuffer) Unsubscribe(ch chan StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
	}
}

func (b *EventBuffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

func (b *EventBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.watchers {
		close(ch)
		delete(b.watchers, ch)
	}
}
