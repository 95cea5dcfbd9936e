// Package mcp contains the Model Context Protocol data types and constants
// used by the wordplay server. The structs mirror the wire representation
// (exported fields with json tags) and carry no transport logic; stdio and
// streaming HTTP import them and handle their own framing.
//
// Only the slice of the protocol the server speaks is modelled here:
// initialization, ping, cancellation and tools.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "cat🐱"}},
//	}
//
// # Compatibility
//
// LatestProtocolVersion is the newest protocol date the server targets.
// SupportedProtocolVersions lists every revision accepted during
// initialization.
package mcp
