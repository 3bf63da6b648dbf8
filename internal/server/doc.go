// Package server implements the HTTP and WebSocket front of relaychat.
//
// A single Hub goroutine owns the session registry and every delivery; each
// connection runs a read pump and a write pump. Configuration, origin checks,
// rate limiting and metrics live in their own files.
package server
