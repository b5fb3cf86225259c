// Package events carries lifecycle notifications from the asset core to the
// renderer. Terminal outcomes are returned as values; intermediate progress
// flows through a Publisher.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle notification names consumed by the renderer.
const (
	LoadStart         = "load-start"
	LoadProgress      = "load-progress"
	LoadComplete      = "load-complete"
	LoadError         = "load-error"
	ModelSwitch       = "model-switch"
	FallbackTriggered = "fallback-triggered"
)

// Operational notifications.
const (
	Eviction        = "eviction"
	BudgetExceeded  = "budget-exceeded"
	ManifestUpdated = "manifest-updated"
	ContextLost     = "context-lost"
	RecoveryAttempt = "recovery-attempt"
	ContextRestored = "context-restored"
	QualityChanged  = "quality-changed"
)

// Event represents a lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	ModelID string         `json:"model_id,omitempty"`
	Session string         `json:"session,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// New stamps an event with an id and the current time.
func New(name, modelID string, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{ID: uuid.NewString(), Name: name, ModelID: modelID, Time: time.Now(), Fields: fields}
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(Event) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Multi fans one event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
