package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	vanotel "github.com/vantage-io/vantage/internal/otel"
)

// Emitter publishes typed pipeline events. Implementations must be safe for
// concurrent use; Emit must not block on downstream consumers.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
}

// LogEmitter writes events to the structured log. It is the default sink when
// no message bus is configured.
type LogEmitter struct{}

// Emit logs the event with its type and trace correlation.
func (LogEmitter) Emit(ctx context.Context, eventType string, payload interface{}) error {
	log.Info().
		Str("event_type", eventType).
		Interface("payload", payload).
		Func(vanotel.LogTraceFields(ctx)).
		Msg("event_emitted")
	return nil
}

// Capture records emitted events in memory for assertions in tests.
type Capture struct {
	mu     sync.Mutex
	events []Captured
}

// Captured is one recorded emission.
type Captured struct {
	Type    string
	Payload interface{}
}

// Emit records the event.
func (c *Capture) Emit(_ context.Context, eventType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Captured{Type: eventType, Payload: payload})
	return nil
}

// Events returns a copy of all recorded emissions.
func (c *Capture) Events() []Captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Captured, len(c.events))
	copy(out, c.events)
	return out
}

// OfType returns recorded emissions matching the given event type.
func (c *Capture) OfType(eventType string) []Captured {
	var out []Captured
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
