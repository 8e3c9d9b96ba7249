package session

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
)

var (
	errAlreadyTracked = apperrors.New(apperrors.CodeConflict, "session already tracked")
	errNotTracked     = apperrors.New(apperrors.CodeNotFound, "session not tracked")
)

// Registry is the single shared collection of tracked sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*Session
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*Session)}
}

// Insert fails with a conflict when the key is already tracked.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[s.Key]; exists {
		return errAlreadyTracked
	}
	r.entries[s.Key] = s
	return nil
}

// Remove untracks key and cancels its timer. Removing an unknown key is a no-op.
// It never takes the session lock, so it is safe inside Do.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	s, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.removed.Store(true)
	s.stopTimer()
	return true
}

// removeSession removes s only if it is still the entry for its key.
func (r *Registry) removeSession(s *Session) bool {
	r.mu.Lock()
	current, ok := r.entries[s.Key]
	if ok && current == s {
		delete(r.entries, s.Key)
	}
	r.mu.Unlock()
	s.removed.Store(true)
	s.stopTimer()
	return ok && current == s
}

func (r *Registry) find(key Key) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[key]
	return s, ok
}

func (r *Registry) Contains(key Key) bool {
	_, ok := r.find(key)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Do runs fn inside the exclusive region of the session tracked under key.
// A miss, including a session removed while waiting for the region, yields a
// not-found error and fn is not called.
func (r *Registry) Do(key Key, fn func(*Session) error) error {
	s, ok := r.find(key)
	if !ok {
		return errNotTracked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed.Load() {
		return errNotTracked
	}
	return fn(s)
}

type SessionInfo struct {
	UserID         string `json:"user_id"`
	ChannelID      string `json:"channel_id"`
	State          string `json:"state"`
	Banned         bool   `json:"banned"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	MessageID      string `json:"message_id"`
}

// Snapshot describes every tracked session, ordered by start time.
func (r *Registry) Snapshot(now time.Time) []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, s := range r.entries {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, SessionInfo{
			UserID:         s.Key.UserID,
			ChannelID:      s.Key.ChannelID,
			State:          s.state.String(),
			Banned:         s.banned,
			ElapsedSeconds: int64(s.Elapsed(now) / time.Second),
			MessageID:      s.Handle.MessageID,
		})
		s.mu.Unlock()
	}
	return out
}

// keyedMutex serializes work on a string key, such as a message id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
