package rpcclient_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/rpctransport"
	"github.com/i5heu/tandem/pkg/wire"
)

// fakeServer answers every request on its end of a pipe via handle,
// exercising the client without a real repodb or TCP listener behind it.
func fakeServer(t *testing.T, handle func(req wire.Frame) wire.Frame) *rpcclient.Client {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()
	fc := rpctransport.NewFramedConn(serverEnd)
	go func() {
		for {
			req, err := fc.Recv()
			if err != nil {
				return
			}
			go func(req wire.Frame) {
				// Send failures here mean the client already hung up.
				_ = fc.Send(handle(req))
			}(req)
		}
	}()

	client := rpcclient.New(rpctransport.NewFramedConn(clientEnd))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCallsDemultiplexByCallID(t *testing.T) {
	client := fakeServer(t, func(req wire.Frame) wire.Frame {
		var r wire.GetOperationRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			t.Error("decode request:", err)
		}
		payload, _ := wire.EncodePayload(wire.GetOperationResponse{Data: []byte(r.ID)})
		return wire.Frame{CallID: req.CallID, Method: req.Method, Kind: wire.KindResponse, Payload: payload}
	})

	ctx := context.Background()
	f1 := client.Call(ctx, wire.MethodGetOperation, wire.GetOperationRequest{ID: "one"})
	f2 := client.Call(ctx, wire.MethodGetOperation, wire.GetOperationRequest{ID: "two"})

	// Both calls are in flight before either reply is awaited; each future
	// resolves to its own call's result.
	r2, err := rpcclient.Await[wire.GetOperationResponse](ctx, f2)
	require.NoError(t, err)
	require.Equal(t, "two", string(r2.Data))

	r1, err := rpcclient.Await[wire.GetOperationResponse](ctx, f1)
	require.NoError(t, err)
	require.Equal(t, "one", string(r1.Data))
}

func TestErrorFramesDecodeToWireError(t *testing.T) {
	client := fakeServer(t, func(req wire.Frame) wire.Frame {
		payload, _ := wire.EncodePayload(wire.NotFound("operation", "deadbeef"))
		return wire.Frame{CallID: req.CallID, Method: req.Method, Kind: wire.KindError, Payload: payload}
	})

	ctx := context.Background()
	f := client.Call(ctx, wire.MethodGetOperation, wire.GetOperationRequest{ID: "deadbeef"})
	_, err := f.Wait(ctx)
	require.Error(t, err)

	var we *wire.Error
	require.ErrorAs(t, err, &we)
	require.Equal(t, wire.CodeNotFound, we.Code)
}

func TestPushFramesInvokeNotifyHandler(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	server := rpctransport.NewFramedConn(serverEnd)
	client := rpcclient.New(rpctransport.NewFramedConn(clientEnd))
	defer client.Close()

	got := make(chan uint64, 1)
	client.OnNotify("w1", func(version uint64, heads []string) {
		got <- version
	})

	payload, err := wire.EncodePayload(wire.NotifyPush{WatchID: "w1", Version: 9, Heads: []string{"h"}})
	require.NoError(t, err)
	require.NoError(t, server.Send(wire.Frame{Method: wire.MethodNotify, Kind: wire.KindPush, Payload: payload}))

	select {
	case v := <-got:
		require.Equal(t, uint64(9), v)
	case <-time.After(5 * time.Second):
		t.Fatal("push never reached the notify handler")
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	// A server that reads but never answers: the pending future must fail
	// when the client is torn down, not hang.
	clientEnd, serverEnd := net.Pipe()
	go io.Copy(io.Discard, serverEnd)
	client := rpcclient.New(rpctransport.NewFramedConn(clientEnd))

	ctx := context.Background()
	f := client.Call(ctx, wire.MethodGetHeads, nil)
	require.NoError(t, client.Close())

	_, err := f.Wait(ctx)
	require.Error(t, err)
}
