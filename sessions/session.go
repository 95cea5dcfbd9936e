package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateClosed        State = "closed"
)

// Reasons passed to close hooks.
const (
	CloseReasonClient   = "client"
	CloseReasonEvicted  = "evicted"
	CloseReasonRemoved  = "removed"
	CloseReasonShutdown = "shutdown"
	CloseReasonEOF      = "eof"
)

var (
	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyInitialized is returned by Activate on an active session.
	ErrAlreadyInitialized = errors.New("session already initialized")
)

// CloseHook is invoked once when a session closes.
type CloseHook func(sess *Session, reason string)

// Session is the server-side state of one connected client. It is safe for
// concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu              sync.Mutex
	state           State
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	lastSeen        time.Time
	inflight        map[string]context.CancelFunc
	hooks           []CloseHook
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// New creates an uninitialized session with the given id. An empty id is
// replaced by NewID().
func New(id string) *Session {
	if id == "" {
		id = NewID()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	now := time.Now()
	return &Session{
		id:        id,
		createdAt: now,
		lastSeen:  now,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateUninitialized,
		inflight:  make(map[string]context.CancelFunc),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Context returns a context cancelled when the session closes. Its cause is
// ErrSessionClosed.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Activate completes the handshake: it records the negotiated protocol version
// and client info and moves the session from UNINITIALIZED to ACTIVE.
func (s *Session) Activate(protocolVersion string, client mcp.ImplementationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateActive:
		return ErrAlreadyInitialized
	}
	s.state = StateActive
	s.protocolVersion = protocolVersion
	s.clientInfo = client
	s.lastSeen = time.Now()
	return nil
}

// OnClose registers a hook run when the session closes. Registering on an
// already closed session runs the hook immediately.
func (s *Session) OnClose(hook CloseHook) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.hooks = append(s.hooks, hook)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	hook(s, CloseReasonRemoved)
}

// Close moves the session to CLOSED, cancels in-flight requests and runs the
// close hooks. It reports whether this call performed the transition; later
// calls are no-ops.
func (s *Session) Close(reason string) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	hooks := s.hooks
	s.hooks = nil
	inflight := s.inflight
	s.inflight = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	s.cancel(fmt.Errorf("%w: %s", ErrSessionClosed, reason))
	for _, cancel := range inflight {
		cancel()
	}
	for _, h := range hooks {
		h(s, reason)
	}
	return true
}

// TrackRequest associates an in-flight request id with its cancel function so
// a later CancelRequest can abort it. The returned func untracks it.
func (s *Session) TrackRequest(id string, cancel context.CancelFunc) (untrack func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		cancel()
		return func() {}
	}
	s.inflight[id] = cancel
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}
}

// CancelRequest cancels the tracked request with the given id and reports
// whether one was found.
func (s *Session) CancelRequest(id string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
