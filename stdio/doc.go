// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for servers launched as a subprocess by the
// client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : exactly one, created on start and closed on EOF
//	Framing          : newline-delimited JSON-RPC
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
// Logs must be sent somewhere other than the output stream.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "wordplay", Version: "0.1.0"}),
//	    mcpservice.WithToolsCapability(reg),
//	)
//	h := stdio.NewHandler(srv, stdio.WithLogger(stderrLogger))
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
