// Package transport implements the two MCP wire transports — a
// subprocess/stdio transport carrying newline-delimited JSON, and an
// HTTP/SSE transport — behind a single narrow interface. The set of
// variants is closed, so Transport is a tagged-union-style interface rather
// than something callers are expected to implement themselves.
package transport

import "context"

// Owner receives the four asynchronous events every Transport variant
// delivers, always in this order: ready once, then any number of message
// and error events interleaved, then closed exactly once, last. No message
// event is ever delivered after closed.
type Owner interface {
	OnReady()
	OnMessage(frame map[string]any)
	OnError(err error)
	OnClosed(reason string)
}

// Transport is the narrow contract both the Stdio and HTTP variants
// implement.
type Transport interface {
	// Start begins the transport's lifecycle, registering owner to receive
	// its events. It returns once startup has been initiated; readiness
	// itself is signalled via Owner.OnReady, either before Start returns
	// (HTTP) or later from the transport's own goroutine (Stdio).
	Start(ctx context.Context, owner Owner) error

	// Send accepts one decoded outbound message and hands it to the wire.
	// It returns synchronously once local delivery has been accepted; the
	// actual wire write may complete asynchronously.
	Send(ctx context.Context, message map[string]any) error

	// Close tears the transport down. It is safe to call more than once.
	Close() error

	// IsConnected reports whether the transport currently considers itself
	// connected to its peer.
	IsConnected() bool
}
