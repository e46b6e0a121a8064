// Package notify carries the user-facing events the controllers emit.
// Rendering is somebody else's problem; this package only defines the event
// and two sinks, a log-backed one and a NATS fan-out for ops tooling.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelNeutral Level = "neutral"
	LevelError   Level = "error"
)

// Notification is one user-visible event. ActionURL, when set, is a
// destination the user can choose to open (the meeting room).
type Notification struct {
	Level       Level  `json:"level"`
	Message     string `json:"message"`
	ActionLabel string `json:"actionLabel,omitempty"`
	ActionURL   string `json:"actionUrl,omitempty"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier renders notifications through zerolog.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	ev := l.Log.Info()
	if n.Level == LevelError {
		ev = l.Log.Error()
	}
	ev = ev.Str("level", string(n.Level))
	if n.ActionURL != "" {
		ev = ev.Str("action", n.ActionLabel).Str("url", n.ActionURL)
	}
	ev.Msg(n.Message)
}

// NATSNotifier publishes every notification as JSON on a subject and then
// forwards it to the wrapped notifier. Publish errors are logged, never
// surfaced; notifications are best-effort.
type NATSNotifier struct {
	Conn    *nats.Conn
	Subject string
	Next    Notifier
	Log     zerolog.Logger
}

func (p NATSNotifier) Notify(n Notification) {
	payload, err := json.Marshal(struct {
		Notification
		At time.Time `json:"at"`
	}{n, time.Now().UTC()})
	if err == nil {
		if err = p.Conn.Publish(p.Subject, payload); err != nil {
			p.Log.Warn().Err(err).Str("subject", p.Subject).Msg("notification publish failed")
		}
	}
	if p.Next != nil {
		p.Next.Notify(n)
	}
}

// Recorder collects notifications for assertions in tests.
type Recorder struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.seen))
	copy(out, r.seen)
	return out
}

// Messages returns just the recorded message strings, in order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.seen))
	for _, n := range r.seen {
		out = append(out, n.Message)
	}
	return out
}
