// Package rpctransport provides the byte-stream connector abstraction the
// tandem wire protocol rides on. TCP is the reference transport;
// Connector is kept narrow enough that another reliable byte-stream (e.g.
// a Unix socket, or an in-process pipe for tests) can implement it
// without touching pkg/wire or pkg/rpcclient.
package rpctransport

import (
	"context"
	"net"
)

// Connector dials or listens for byte-stream connections.
type Connector interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
	Listen(ctx context.Context, address string) (net.Listener, error)
}

// TCP is the reference Connector implementation.
type TCP struct {
	// Dialer customizes outbound connection timeouts; the zero value uses
	// net.Dialer's defaults.
	Dialer net.Dialer
}

func (TCP) Listen(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", address)
}

func (t TCP) Dial(ctx context.Context, address string) (net.Conn, error) {
	return t.Dialer.DialContext(ctx, "tcp", address)
}
