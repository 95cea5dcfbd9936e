// Package sessions defines the per-client session shared by the stdio and
// streaming HTTP transports, and the Store contract used to track live
// sessions.
//
// Lifecycle
//
//	UNINITIALIZED --Activate--> ACTIVE --Close--> CLOSED
//
// CLOSED is terminal. Closing cancels the session context (and with it every
// in-flight tool call) and then runs the registered close hooks exactly once.
//
// The HTTP transport stores sessions in a Store (see memorystore) and removes
// them from a close hook; stdio uses a single session for the lifetime of the
// process.
//
// Example:
//
//	sess := sessions.New("")
//	sess.OnClose(func(s *sessions.Session, reason string) {
//	    log.Printf("session %s closed: %s", s.ID(), reason)
//	})
//	_ = sess.Activate(mcp.LatestProtocolVersion, mcp.ImplementationInfo{Name: "client"})
//	defer sess.Close(sessions.CloseReasonShutdown)
package sessions
