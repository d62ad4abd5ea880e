package mcp

import "context"

// Transport delivers JSON-RPC messages to a tool service and returns
// its replies. Implementations own the underlying connection or
// process lifecycle.
type Transport interface {
	// Send issues a request and blocks until the matching response
	// arrives or ctx is done.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a fire-and-forget notification.
	Notify(ctx context.Context, notif *Notification) error

	// Close tears down the transport.
	Close() error
}
