package dispatcher

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/presence"
)

// State is a connection's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is one connection's state machine:
// Connecting -> Authenticated -> Active -> Closed. Any state may move
// straight to Closed. Handle must be called from a single goroutine per
// session; Close may be called from any goroutine.
type Session struct {
	d       *Dispatcher
	conn    presence.Conn
	limiter *rate.Limiter

	mu       sync.Mutex
	state    State
	identity core.Identity
}

// NewSession starts a session for conn in StateConnecting.
func (d *Dispatcher) NewSession(conn presence.Conn) *Session {
	s := &Session{d: d, conn: conn, state: StateConnecting}
	if d.rateLimit > 0 {
		s.limiter = rate.NewLimiter(d.rateLimit, d.rateBurst)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the bound identity, zero before authentication.
func (s *Session) Identity() core.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticate verifies token and binds the resulting identity. displayName,
// when non-empty, overrides the credential's display name. On failure the
// session is closed and never reaches the directory.
func (s *Session) Authenticate(ctx context.Context, token, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return fmt.Errorf("authenticate in state %s", s.state)
	}

	identity, err := s.d.auth.Authenticate(ctx, token)
	if err != nil {
		s.state = StateClosed
		s.d.observer.EventHandled("connect", outcomeRejected)
		return err
	}
	if displayName != "" {
		identity.DisplayName = displayName
	}

	s.identity = identity
	s.state = StateAuthenticated
	return nil
}

// Open registers the session in the directory, which announces it online and
// sends it the online snapshot.
func (s *Session) Open() error {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("open in state %s", state)
	}
	s.state = StateActive
	identity := s.identity
	s.mu.Unlock()

	s.d.directory.Register(identity, s.conn)
	s.d.observer.EventHandled("connect", outcomeOK)
	log.Printf("[DISPATCH] User connected: id=%s name=%q", identity.ID, identity.DisplayName)
	return nil
}

// Close moves the session to StateClosed. An active session is removed from
// the directory, which broadcasts it offline. Repeated calls are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	identity := s.identity
	s.mu.Unlock()

	if prev != StateActive {
		return
	}
	if s.d.directory.Unregister(identity.ID, s.conn) {
		log.Printf("[DISPATCH] User disconnected: id=%s", identity.ID)
	}
	s.d.observer.EventHandled("disconnect", outcomeOK)
}

// send delivers an event to this session's own connection.
func (s *Session) send(ev core.Event) {
	if err := s.conn.Send(ev); err != nil {
		log.Printf("[DISPATCH] Failed to send %q to user=%s: %v", ev.Name, s.identity.ID, err)
	}
}

func (s *Session) sendError(reason string) {
	s.send(core.NewErrorEvent(reason))
}
