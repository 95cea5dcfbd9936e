// Package streaminghttp implements the MCP streamable HTTP transport on a
// single endpoint.
//
// Responsibilities
//   - Session creation on initialize, lookup via the Mcp-Session-Id header
//     and termination on DELETE (via a sessions.Store)
//   - Content negotiation: a POSTed request is answered with a JSON body, or
//     with a single Server-Sent Event when the client only accepts streams
//   - GET streams that stay open, with keep-alive comments, until the
//     session closes or the client disconnects
//   - Protocol version header checks against the negotiated version
//
// NewRouter wraps a Handler in a chi router that adds CORS, a status document
// on GET / and the usual request-id, real-ip and recovery middleware.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes with a small JSON body;
// MCP-level errors are serialized as JSON-RPC error responses. Bodies that
// cannot be parsed as a JSON-RPC message get a JSON-RPC error with a null id.
//
// Example:
//
//	store := memorystore.New()
//	h, err := streaminghttp.New(store, server)
//	if err != nil { log.Fatal(err) }
//	http.ListenAndServe(":3000", streaminghttp.NewRouter(h))
package streaminghttp
