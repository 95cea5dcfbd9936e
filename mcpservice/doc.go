// Package mcpservice provides the server-side building blocks consumed by the
// protocol engine: a tool Registry, typed tool construction with reflected
// input schemas, and the ServerCapabilities surfaced during initialize.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//
//	reg := mcpservice.NewRegistry()
//	reg.MustRegister(mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, s *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	))
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(reg),
//	)
//
// Arguments are validated against the tool's input schema before the handler
// runs. Invoke reports unregistered names with *UnknownToolError and schema
// violations with *ValidationError; the engine decides how each is surfaced
// on the wire.
package mcpservice
