package chat_test

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/anonychat/internal/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures delivered events per connection.
type recorder struct {
	mu     sync.Mutex
	events map[string][]chat.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]chat.Event)}
}

func (r *recorder) Deliver(ev chat.Event, ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.events[id] = append(r.events[id], ev)
	}
}

func (r *recorder) For(id string) []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Event, len(r.events[id]))
	copy(out, r.events[id])
	return out
}

func (r *recorder) Reset() {
	r.mu.Lock()
	r.events = make(map[string][]chat.Event)
	r.mu.Unlock()
}

// Messages returns the Message payloads of every message event for id.
func (r *recorder) Messages(id string) []chat.Message {
	var msgs []chat.Message
	for _, ev := range r.For(id) {
		if ev.Type == chat.EventMessage {
			msgs = append(msgs, ev.Data.(chat.Message))
		}
	}
	return msgs
}

// OfType returns the events of the given type for id.
func (r *recorder) OfType(id string, t chat.EventType) []chat.Event {
	var out []chat.Event
	for _, ev := range r.For(id) {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// touchRecorder is a chat.Persister that remembers touched codes.
type touchRecorder struct {
	mu      sync.Mutex
	touched []string
}

func (t *touchRecorder) Touch(code string) {
	t.mu.Lock()
	t.touched = append(t.touched, code)
	t.mu.Unlock()
}

func (t *touchRecorder) Codes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.touched...)
}
