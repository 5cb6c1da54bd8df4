package serverstore

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/tandem/pkg/rpctransport"
	"github.com/i5heu/tandem/pkg/wire"
)

// conn serves one client connection: it decodes request frames, dispatches
// them, and writes back response/error frames. It also tracks any watches
// registered on it so they can be canceled when the connection drops.
type conn struct {
	server *Server
	fc     *rpctransport.FramedConn
	log    *logrus.Entry

	mu       sync.Mutex
	cancels  []func()
	watchIDs map[string]func()
}

func (c *conn) serve(ctx context.Context) {
	defer c.server.forgetConn(c)
	defer c.fc.Close()
	defer c.cancelWatches()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		frame, err := c.fc.Recv()
		if err != nil {
			if err != io.EOF {
				c.log.WithError(err).Debug("serverstore: connection read error")
			}
			return
		}
		if frame.Kind != wire.KindRequest {
			c.log.WithField("kind", frame.Kind).Warn("serverstore: unexpected frame kind from client")
			continue
		}
		go c.dispatch(connCtx, frame)
	}
}

func (c *conn) cancelWatches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

func (c *conn) addCancel(cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, cancel)
}

func (c *conn) dispatch(ctx context.Context, req wire.Frame) {
	start := time.Now()
	log := c.log.WithField("method", req.Method)

	resp, err := c.handle(ctx, req)

	log.WithFields(logrus.Fields{
		"latency_ms":  time.Since(start).Milliseconds(),
		"queue_depth": c.server.connCount(),
	}).Debug("serverstore: handled request")

	if err != nil {
		c.sendError(req, err)
		return
	}
	if err := c.fc.Send(wire.Frame{CallID: req.CallID, Method: req.Method, Kind: wire.KindResponse, Payload: resp}); err != nil {
		log.WithError(err).Debug("serverstore: failed to send response")
	}
}

func (c *conn) sendError(req wire.Frame, err error) {
	we, ok := err.(*wire.Error)
	if !ok {
		we = wire.Internal(err.Error(), false)
	}
	payload, encErr := wire.EncodePayload(we)
	if encErr != nil {
		c.log.WithError(encErr).Error("serverstore: failed to encode error payload")
		return
	}
	if sendErr := c.fc.Send(wire.Frame{CallID: req.CallID, Method: req.Method, Kind: wire.KindError, Payload: payload}); sendErr != nil {
		c.log.WithError(sendErr).Debug("serverstore: failed to send error response")
	}
}

func (c *conn) handle(ctx context.Context, req wire.Frame) ([]byte, error) {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	switch req.Method {
	case wire.MethodGetRepoInfo:
		return wire.EncodePayload(c.server.repoInfo())

	case wire.MethodGetObject:
		var r wire.GetObjectRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		data, err := c.server.db.GetObject(ctx, r.Kind, r.ID)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.GetObjectResponse{Data: data})

	case wire.MethodPutObject:
		var r wire.PutObjectRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		id, normalized, err := c.server.db.PutObject(ctx, r.Kind, r.Data)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.PutObjectResponse{ID: id, NormalizedData: normalized})

	case wire.MethodGetOperation:
		var r wire.GetOperationRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		data, err := c.server.db.GetOperation(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.GetOperationResponse{Data: data})

	case wire.MethodPutOperation:
		var r wire.PutOperationRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		id, err := c.server.db.PutOperation(ctx, r.Data)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.PutOperationResponse{ID: id})

	case wire.MethodGetView:
		var r wire.GetViewRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		data, err := c.server.db.GetView(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.GetViewResponse{Data: data})

	case wire.MethodPutView:
		var r wire.PutViewRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		id, err := c.server.db.PutView(ctx, r.Data)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.PutViewResponse{ID: id})

	case wire.MethodResolveOperationIDPrefix:
		var r wire.ResolveOperationIDPrefixRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		resolution, match := c.server.db.ResolveOperationIDPrefix(r.HexPrefix)
		return wire.EncodePayload(wire.ResolveOperationIDPrefixResponse{Resolution: resolution, Match: match})

	case wire.MethodGetHeads:
		heads, version, wsHeads, err := c.server.heads.GetHeads(ctx)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.GetHeadsResponse{Heads: heads, Version: version, WorkspaceHeads: wsHeads})

	case wire.MethodUpdateOpHeads:
		var r wire.UpdateOpHeadsRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		ok, heads, version, wsHeads, err := c.server.heads.UpdateOpHeads(ctx, r.OldIDs, r.NewID, r.ExpectedVersion, r.WorkspaceID)
		if err != nil {
			return nil, err
		}
		return wire.EncodePayload(wire.UpdateOpHeadsResponse{OK: ok, Heads: heads, Version: version, WorkspaceHeads: wsHeads})

	case wire.MethodWatchHeads:
		return c.handleWatchHeads(req)

	case wire.MethodCancelWatch:
		var r wire.CancelWatchRequest
		if err := wire.DecodePayload(req.Payload, &r); err != nil {
			return nil, wire.InvalidData("request", err.Error())
		}
		c.cancelWatchByID(r.WatchID)
		return nil, nil

	case wire.MethodGetHeadsSnapshot:
		return c.handleGetHeadsSnapshot(ctx)

	case wire.MethodGetRelatedCopies:
		if !c.server.copyTracking {
			return nil, wire.Unsupported("getRelatedCopies")
		}
		return wire.EncodePayload(wire.GetRelatedCopiesResponse{})

	default:
		return nil, wire.Unsupported(req.Method.String())
	}
}
