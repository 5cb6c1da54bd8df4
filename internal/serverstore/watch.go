package serverstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/i5heu/tandem/internal/repodb"
	"github.com/i5heu/tandem/pkg/wire"
)

// handleWatchHeads registers a notify callback that pushes NotifyPush
// frames back on this same connection, keyed by a watch id the client can
// later cancel.
func (c *conn) handleWatchHeads(req wire.Frame) ([]byte, error) {
	var r wire.WatchHeadsRequest
	if err := wire.DecodePayload(req.Payload, &r); err != nil {
		return nil, wire.InvalidData("request", err.Error())
	}

	watchID, err := randomID()
	if err != nil {
		return nil, wire.Internal(err.Error(), false)
	}

	heads, version, _, err := c.server.heads.GetHeads(context.Background())
	if err != nil {
		return nil, err
	}

	var pushMu sync.Mutex
	notify := func(version uint64, heads []string) error {
		payload, err := wire.EncodePayload(wire.NotifyPush{WatchID: watchID, Version: version, Heads: heads})
		if err != nil {
			return err
		}
		pushMu.Lock()
		defer pushMu.Unlock()
		return c.fc.Send(wire.Frame{Method: wire.MethodNotify, Kind: wire.KindPush, Payload: payload})
	}

	cancel := c.server.heads.Watchers().Register(r.AfterVersion, version, heads, notify)

	c.mu.Lock()
	if c.watchIDs == nil {
		c.watchIDs = make(map[string]func())
	}
	c.watchIDs[watchID] = cancel
	c.mu.Unlock()
	c.addCancel(cancel)

	return wire.EncodePayload(wire.WatchHeadsAck{WatchID: watchID})
}

func (c *conn) cancelWatchByID(watchID string) {
	c.mu.Lock()
	cancel, ok := c.watchIDs[watchID]
	if ok {
		delete(c.watchIDs, watchID)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func randomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// handleGetHeadsSnapshot returns a consistent snapshot tying one version
// to the operation and view bytes its heads depend on, reducing round
// trips for a client reconstructing state after reconnect.
func (c *conn) handleGetHeadsSnapshot(ctx context.Context) ([]byte, error) {
	heads, version, _, err := c.server.heads.GetHeads(ctx)
	if err != nil {
		return nil, err
	}

	operations := make([][]byte, 0, len(heads))
	views := make([][]byte, 0, len(heads))
	seenViewIDs := make(map[string]bool)

	for _, opID := range heads {
		opBytes, err := c.server.db.GetOperation(ctx, opID)
		if err != nil {
			return nil, err
		}
		operations = append(operations, opBytes)

		viewID, err := repodb.DecodeOperationViewID(opBytes)
		if err != nil || seenViewIDs[viewID] {
			continue
		}
		seenViewIDs[viewID] = true

		viewBytes, err := c.server.db.GetView(ctx, viewID)
		if err != nil {
			continue
		}
		views = append(views, viewBytes)
	}

	return wire.EncodePayload(wire.GetHeadsSnapshotResponse{
		Heads:      heads,
		Version:    version,
		Operations: operations,
		Views:      views,
	})
}
