// Package memorystore provides a bounded, in-memory sessions.Store backed by
// github.com/hashicorp/golang-lru/v2/expirable. Sessions idle longer than the
// TTL expire, and when capacity is reached the least recently used session is
// evicted. Either way the dropped session is closed.
package memorystore

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/wordplay-mcp/sessions"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCapacity = 1024
	DefaultTTL      = 30 * time.Minute
)

var _ sessions.Store = (*Store)(nil)

type entry struct {
	sess *sessions.Session
	// removed marks entries dropped through Remove so the eviction callback
	// leaves closing to the caller.
	removed atomic.Bool
}

// Store implements sessions.Store.
type Store struct {
	// mu serializes check-then-insert in Put against Get and Remove.
	mu    sync.Mutex
	cache *expirable.LRU[string, *entry]
	log   *slog.Logger

	capacity int
	ttl      time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of live sessions. Non-positive values are
// ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithTTL sets the idle expiry. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for eviction events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Store.
func New(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = expirable.NewLRU[string, *entry](s.capacity, s.onEvict, s.ttl)
	return s
}

// onEvict runs under the cache's internal lock, so the session is closed on a
// separate goroutine; its close hooks are free to call back into the store.
func (s *Store) onEvict(id string, e *entry) {
	if e.removed.Load() {
		return
	}
	s.log.Info("session.evict", slog.String("session_id", id))
	go e.sess.Close(sessions.CloseReasonEvicted)
}

// Get returns the session and slides its TTL forward.
func (s *Store) Get(id string) (*sessions.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	// Re-adding an existing key resets its expiry without firing onEvict.
	s.cache.Add(id, e)
	e.sess.Touch()
	return e.sess, true
}

// Put registers sess. It fails with sessions.ErrSessionExists when the id is
// already present and with sessions.ErrSessionClosed for closed sessions.
func (s *Store) Put(sess *sessions.Session) error {
	if sess.State() == sessions.StateClosed {
		return sessions.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Peek(sess.ID()); ok {
		return sessions.ErrSessionExists
	}
	s.cache.Add(sess.ID(), &entry{sess: sess})
	return nil
}

// Remove drops the session and closes it synchronously.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	e, ok := s.cache.Peek(id)
	if ok {
		e.removed.Store(true)
		s.cache.Remove(id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.sess.Close(sessions.CloseReasonRemoved)
	return true
}

// Len reports the number of registered sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// CloseAll removes and closes every registered session.
func (s *Store) CloseAll(reason string) {
	s.mu.Lock()
	var drained []*sessions.Session
	for _, id := range s.cache.Keys() {
		if e, ok := s.cache.Peek(id); ok {
			e.removed.Store(true)
			drained = append(drained, e.sess)
		}
	}
	s.cache.Purge()
	s.mu.Unlock()
	for _, sess := range drained {
		sess.Close(reason)
	}
}
