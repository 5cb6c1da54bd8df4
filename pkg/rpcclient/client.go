// Package rpcclient implements the client side of the tandem wire protocol:
// a Call returns immediately with a *Future, so several calls can be in
// flight before any reply is read. A Call takes a plain request value, not
// a Future; a dependent chain issues its next call without waiting by
// knowing the ids it needs up front (pkg/clientstore's WriteChain computes
// them locally) and waits on the Futures only at its terminal step.
package rpcclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/i5heu/tandem/pkg/rpctransport"
	"github.com/i5heu/tandem/pkg/wire"
)

// inFlightLimit bounds the number of outstanding calls per client so a
// runaway pipeline cannot bury the connection.
const inFlightLimit = 64

// Future is the eventual result of one RPC call. Exactly one of its result
// fields is valid once the call completes.
type Future struct {
	done    chan struct{}
	payload []byte
	err     error
}

// Wait blocks until the call completes and returns its raw response payload
// or error. Callers that only need to pipeline (feed the result into a
// later Call without inspecting it themselves) need not call Wait at all.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newReadyFuture(payload []byte, err error) *Future {
	f := &Future{done: make(chan struct{})}
	f.payload, f.err = payload, err
	close(f.done)
	return f
}

type pending struct {
	method wire.Method
	future *Future
}

// Client is a connection to one tandem server: it owns the framed
// connection, demultiplexes responses by call id, and exposes Call for
// issuing requests.
type Client struct {
	fc  *rpctransport.FramedConn
	sem chan struct{}

	nextID uint64

	mu       sync.Mutex
	pendings map[uint64]*pending
	watches  map[string]func(version uint64, heads []string)

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New wraps conn as a tandem RPC client and starts its receive loop.
func New(fc *rpctransport.FramedConn) *Client {
	c := &Client{
		fc:       fc,
		sem:      make(chan struct{}, inFlightLimit),
		pendings: make(map[uint64]*pending),
		watches:  make(map[string]func(uint64, []string)),
		closed:   make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// OnNotify registers a handler invoked whenever a NotifyPush frame for
// watchID arrives. Overwrites any previous handler for the same id.
func (c *Client) OnNotify(watchID string, handler func(version uint64, heads []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watches[watchID] = handler
}

func (c *Client) RemoveNotify(watchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watches, watchID)
}

// Call sends a request for method with the gob-encoded payload and returns
// a Future for its response. Call never blocks on the network reply; it
// only blocks briefly to acquire an in-flight slot.
func (c *Client) Call(ctx context.Context, method wire.Method, req any) *Future {
	payload, err := wire.EncodePayload(req)
	if err != nil {
		return newReadyFuture(nil, fmt.Errorf("rpcclient: encode request: %w", err))
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return newReadyFuture(nil, ctx.Err())
	case <-c.closed:
		return newReadyFuture(nil, c.closeErrOrDefault())
	}

	id := atomic.AddUint64(&c.nextID, 1)
	f := &Future{done: make(chan struct{})}

	c.mu.Lock()
	c.pendings[id] = &pending{method: method, future: f}
	c.mu.Unlock()

	if err := c.fc.Send(wire.Frame{CallID: id, Method: method, Kind: wire.KindRequest, Payload: payload}); err != nil {
		c.mu.Lock()
		delete(c.pendings, id)
		c.mu.Unlock()
		<-c.sem
		return newReadyFuture(nil, fmt.Errorf("rpcclient: send request: %w", err))
	}

	go func() {
		<-f.done
		<-c.sem
	}()

	return f
}

// CallPipelined is Call under the name the pipelined write path uses: it
// returns the Future without waiting, so the *next* call in a dependent
// chain is issued before this reply arrives (see pkg/clientstore's write
// path for the putObject -> putOperation -> putView -> updateOpHeads chain,
// which calls Wait only in its terminal Commit).
func (c *Client) CallPipelined(ctx context.Context, method wire.Method, req any) *Future {
	return c.Call(ctx, method, req)
}

func (c *Client) recvLoop() {
	for {
		frame, err := c.fc.Recv()
		if err != nil {
			c.shutdown(err)
			return
		}

		switch frame.Kind {
		case wire.KindPush:
			c.handlePush(frame)
		case wire.KindResponse, wire.KindError:
			c.handleReply(frame)
		}
	}
}

func (c *Client) handlePush(frame wire.Frame) {
	var push wire.NotifyPush
	if err := wire.DecodePayload(frame.Payload, &push); err != nil {
		return
	}
	c.mu.Lock()
	handler := c.watches[push.WatchID]
	c.mu.Unlock()
	if handler != nil {
		handler(push.Version, push.Heads)
	}
}

func (c *Client) handleReply(frame wire.Frame) {
	c.mu.Lock()
	p, ok := c.pendings[frame.CallID]
	if ok {
		delete(c.pendings, frame.CallID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if frame.Kind == wire.KindError {
		var we wire.Error
		if err := wire.DecodePayload(frame.Payload, &we); err != nil {
			p.future.err = fmt.Errorf("rpcclient: decode error payload: %w", err)
		} else {
			p.future.err = &we
		}
	} else {
		p.future.payload = frame.Payload
	}
	close(p.future.done)
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)

		c.mu.Lock()
		pendings := c.pendings
		c.pendings = nil
		c.mu.Unlock()

		for _, p := range pendings {
			p.future.err = fmt.Errorf("rpcclient: connection closed: %w", err)
			close(p.future.done)
		}
	})
}

func (c *Client) closeErrOrDefault() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return fmt.Errorf("rpcclient: connection closed")
}

// Close closes the underlying connection and fails any pending calls.
func (c *Client) Close() error {
	err := c.fc.Close()
	c.shutdown(fmt.Errorf("rpcclient: client closed"))
	return err
}
