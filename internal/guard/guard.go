// Package guard provides the single-flight lock around queue passes.
package guard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// processSession identifies this process instance.
var processSession = uuid.NewString()

// SessionID returns the identity token of the current process.
func SessionID() string {
	return processSession
}

// State is a snapshot of the guard.
type State struct {
	IsLocked   bool      `json:"isLocked"`
	AcquiredAt time.Time `json:"acquiredAt"`
	SessionID  string    `json:"sessionId"`
}

// Token identifies one successful Acquire.
type Token string

// Guard is a process-local single-flight lock with staleness detection.
// A lock stamped by another session, or older than the lock timeout,
// is considered abandoned and may be taken over.
type Guard struct {
	mu      sync.Mutex
	state   State
	token   Token
	session string
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithSessionID overrides the session token.
func WithSessionID(id string) Option {
	return func(g *Guard) { g.session = id }
}

// New creates a guard with the given lock timeout.
func New(lockTimeout time.Duration, opts ...Option) *Guard {
	g := &Guard{
		session: processSession,
		timeout: lockTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire takes the lock unless a valid lock is held. The returned token
// must be passed to Release.
func (g *Guard) Acquire() (Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.heldLocked(now) {
		return "", false
	}

	g.state = State{
		IsLocked:   true,
		AcquiredAt: now,
		SessionID:  g.session,
	}
	g.token = Token(uuid.NewString())
	return g.token, true
}

// Release drops the lock if tok still owns it. A holder whose lock was
// taken over after going stale releases nothing. Safe to call repeatedly.
func (g *Guard) Release(tok Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tok == "" || tok != g.token {
		return
	}
	g.state.IsLocked = false
	g.token = ""
}

// Held reports whether a valid lock is currently held.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heldLocked(g.now())
}

// State returns a snapshot.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Restore replaces the guard state, e.g. with a snapshot left by a previous process.
func (g *Guard) Restore(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
	g.token = ""
}

func (g *Guard) heldLocked(now time.Time) bool {
	if !g.state.IsLocked {
		return false
	}
	if g.state.SessionID != g.session {
		return false
	}
	return now.Sub(g.state.AcquiredAt) < g.timeout
}
