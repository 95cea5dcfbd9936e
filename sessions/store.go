package sessions

import "errors"

// ErrSessionExists is returned by Store.Put when the id is already taken.
var ErrSessionExists = errors.New("session id already registered")

// Store is a registry of live sessions keyed by id. Implementations MUST be
// safe for concurrent use and MUST close sessions they drop.
type Store interface {
	// Get returns the session and refreshes its idle deadline.
	Get(id string) (*Session, bool)
	// Put registers sess atomically; ErrSessionExists if its id is taken.
	Put(sess *Session) error
	// Remove drops and closes the session. It reports whether it was present.
	Remove(id string) bool
	// Len reports the number of registered sessions.
	Len() int
}
