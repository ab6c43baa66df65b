package exam

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type registryEntry struct {
	id       string
	userID   int64
	session  *Session
	lastSeen time.Time
}

// Registry keeps one in-memory exam session per logged-in user.
type Registry struct {
	mu     sync.Mutex
	byUser map[int64]*registryEntry
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]*registryEntry), now: time.Now}
}

// ForUser returns the user's session ID and session, creating a fresh one
// in setup if there is none.
func (r *Registry) ForUser(userID int64) (string, *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byUser[userID]
	if !ok {
		e = &registryEntry{id: uuid.NewString(), userID: userID, session: NewSession()}
		r.byUser[userID] = e
		slog.Debug("exam session created", "session_id", e.id, "user_id", userID)
	}
	e.lastSeen = r.now()
	return e.id, e.session
}

// Discard drops the user's session without writing any statistics.
func (r *Registry) Discard(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byUser[userID]; ok {
		// Requests still holding the session see it back in setup.
		e.session.Reset()
		slog.Debug("exam session discarded", "session_id", e.id, "user_id", userID)
		delete(r.byUser, userID)
	}
}

// EvictIdle drops sessions not touched for longer than maxIdle and returns
// how many were removed.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	n := 0
	for uid, e := range r.byUser {
		if e.lastSeen.Before(cutoff) {
			e.session.Reset()
			delete(r.byUser, uid)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
