// Package dispatcher is the real-time core: it authenticates connections,
// registers them with the presence directory, and handles every inbound
// event with the persistence, fan-out and side effects it implies.
//
// Only persistence of the primary message can fail an event. Memory
// extraction runs as a best-effort task whose failure is logged, never shown
// to the user.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/engine"
	"github.com/becomeliminal/memento/events"
	"github.com/becomeliminal/memento/presence"
)

// Error reasons sent to clients. Internal errors are never forwarded.
const (
	ReasonSendFailed       = "Failed to send message"
	ReasonAIFailed         = "Failed to process AI message"
	ReasonNotAuthenticated = "Not authenticated"
	ReasonUnknownEvent     = "Unknown event"
	ReasonInvalidPayload   = "Invalid payload"
	ReasonRateLimited      = "Rate limit exceeded"
)

// ContextWindow is how far back the assistant sees the user's messages.
const ContextWindow = 24 * time.Hour

// MessageStore persists and queries chat messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *core.Message) error
	RecentForUser(ctx context.Context, userID string, since time.Time) ([]core.Message, error)
}

// MemoryRecorder extracts and persists memories, and reads meetings back.
// *memory.Manager satisfies it.
type MemoryRecorder interface {
	Record(ctx context.Context, msg *core.Message, participants []string) (*core.Memory, error)
	Meetings(ctx context.Context, userID string) ([]core.Memory, error)
}

// Assistant produces the reply for an ai message. It must always return
// usable text. *engine.Engine satisfies it.
type Assistant interface {
	Reply(ctx context.Context, in engine.ReplyInput) engine.Reply
}

// TaskRunner runs best-effort side effects. *tasks.Runner satisfies it.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Observer is told the outcome of every event. Implementations must be
// cheap and safe for concurrent use.
type Observer interface {
	EventHandled(event, outcome string)
}

// Outcomes reported to the Observer.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeFallback = "fallback"
)

type nopObserver struct{}

func (nopObserver) EventHandled(string, string) {}

// Deps are the collaborators a Dispatcher needs. All are required.
type Deps struct {
	Auth      auth.Authenticator
	Directory *presence.Directory
	Messages  MessageStore
	Memories  MemoryRecorder
	Assistant Assistant
	Tasks     TaskRunner
}

// Dispatcher holds what every session shares.
type Dispatcher struct {
	auth      auth.Authenticator
	directory *presence.Directory
	messages  MessageStore
	memories  MemoryRecorder
	assistant Assistant
	tasks     TaskRunner

	validator *events.Validator
	observer  Observer
	now       func() time.Time

	rateLimit rate.Limit
	rateBurst int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithObserver reports event outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithRateLimit limits each connection to perSecond events with the given
// burst. Zero disables limiting, which is the default.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		d.rateLimit = rate.Limit(perSecond)
		if burst < 1 {
			burst = 1
		}
		d.rateBurst = burst
	}
}

// New creates a Dispatcher.
func New(deps Deps, opts ...Option) (*Dispatcher, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("dispatcher: Auth is required")
	case deps.Directory == nil:
		return nil, errors.New("dispatcher: Directory is required")
	case deps.Messages == nil:
		return nil, errors.New("dispatcher: Messages is required")
	case deps.Memories == nil:
		return nil, errors.New("dispatcher: Memories is required")
	case deps.Assistant == nil:
		return nil, errors.New("dispatcher: Assistant is required")
	case deps.Tasks == nil:
		return nil, errors.New("dispatcher: Tasks is required")
	}

	validator, err := events.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	d := &Dispatcher{
		auth:      deps.Auth,
		directory: deps.Directory,
		messages:  deps.Messages,
		memories:  deps.Memories,
		assistant: deps.Assistant,
		tasks:     deps.Tasks,
		validator: validator,
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Directory returns the presence directory sessions register with.
func (d *Dispatcher) Directory() *presence.Directory {
	return d.directory
}
