// Package logging configures structured logging for vmrag.
//
// Logs are JSON lines written through a size-rotating file writer, optionally
// mirrored to stderr. Stdout is never written: in serve mode it carries the
// MCP JSON-RPC stream.
package logging
