package clientstore

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/wire"
)

// OpHeadsStore implements the VCS library's op-heads trait: get_op_heads
// -> getHeads, update_op_heads -> updateOpHeads. A CAS miss is not an
// error: UpdateOpHeads returns ok=false and the caller's own transaction
// layer is expected to rebuild and retry, exactly as the library's
// local-file op-heads store would signal a concurrent writer.
type OpHeadsStore struct {
	client *rpcclient.Client

	// versionCache holds the most recently observed (version, heads) per
	// workspace, used as expectedVersion for the next updateOpHeads
	// without a getHeads round trip.
	versionCache *ristretto.Cache
}

type cachedHeads struct {
	version uint64
	heads   []string
}

// NewOpHeadsStore is exported for tests and for callers assembling an
// OpHeadsStore outside of Connect's full handshake (e.g. against a
// pre-validated *rpcclient.Client).
func NewOpHeadsStore(client *rpcclient.Client) (*OpHeadsStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &OpHeadsStore{client: client, versionCache: cache}, nil
}

// GetHeads implements get_op_heads -> getHeads.
func (h *OpHeadsStore) GetHeads(ctx context.Context, workspaceID string) (heads []string, version uint64, workspaceHeads map[string]string, err error) {
	f := h.client.Call(ctx, wire.MethodGetHeads, nil)
	resp, err := rpcclient.Await[wire.GetHeadsResponse](ctx, f)
	if err != nil {
		return nil, 0, nil, translateError(err)
	}
	h.versionCache.SetWithTTL(workspaceID, cachedHeads{version: resp.Version, heads: resp.Heads}, 1, time.Minute)
	return resp.Heads, resp.Version, resp.WorkspaceHeads, nil
}

// expectedVersion returns the cached version for workspaceID if present,
// falling back to a live getHeads round trip when the cache is cold.
func (h *OpHeadsStore) expectedVersion(ctx context.Context, workspaceID string) (uint64, error) {
	if v, ok := h.versionCache.Get(workspaceID); ok {
		return v.(cachedHeads).version, nil
	}
	_, version, _, err := h.GetHeads(ctx, workspaceID)
	return version, err
}

// UpdateOpHeads implements update_op_heads -> updateOpHeads, using the
// optimistic version cache as expectedVersion when the caller does not
// already know it. On a CAS miss (ok=false) it refreshes the cache from
// the server's returned state so the caller's retry starts current.
func (h *OpHeadsStore) UpdateOpHeads(ctx context.Context, oldIDs []string, newID, workspaceID string) (ok bool, heads []string, version uint64, workspaceHeads map[string]string, err error) {
	expected, err := h.expectedVersion(ctx, workspaceID)
	if err != nil {
		return false, nil, 0, nil, err
	}
	return h.UpdateOpHeadsAt(ctx, oldIDs, newID, expected, workspaceID)
}

// UpdateOpHeadsAt is UpdateOpHeads with an explicit expectedVersion,
// exposed for the terminal call of a pipelined write chain where the
// caller already tracked the version itself.
func (h *OpHeadsStore) UpdateOpHeadsAt(ctx context.Context, oldIDs []string, newID string, expectedVersion uint64, workspaceID string) (ok bool, heads []string, version uint64, workspaceHeads map[string]string, err error) {
	f := h.client.Call(ctx, wire.MethodUpdateOpHeads, wire.UpdateOpHeadsRequest{
		OldIDs:          oldIDs,
		NewID:           newID,
		ExpectedVersion: expectedVersion,
		WorkspaceID:     workspaceID,
	})
	resp, err := rpcclient.Await[wire.UpdateOpHeadsResponse](ctx, f)
	if err != nil {
		return false, nil, 0, nil, translateError(err)
	}

	h.versionCache.SetWithTTL(workspaceID, cachedHeads{version: resp.Version, heads: resp.Heads}, 1, time.Minute)

	return resp.OK, resp.Heads, resp.Version, resp.WorkspaceHeads, nil
}

// Watch registers a watchHeads subscription and invokes onNotify for each
// pushed version. The returned cancel function unsubscribes.
func (h *OpHeadsStore) Watch(ctx context.Context, afterVersion uint64, onNotify func(version uint64, heads []string)) (cancel func(ctx context.Context) error, err error) {
	f := h.client.Call(ctx, wire.MethodWatchHeads, wire.WatchHeadsRequest{AfterVersion: afterVersion})
	ack, err := rpcclient.Await[wire.WatchHeadsAck](ctx, f)
	if err != nil {
		return nil, translateError(err)
	}

	h.client.OnNotify(ack.WatchID, onNotify)

	cancel = func(ctx context.Context) error {
		h.client.RemoveNotify(ack.WatchID)
		cf := h.client.Call(ctx, wire.MethodCancelWatch, wire.CancelWatchRequest{WatchID: ack.WatchID})
		_, err := cf.Wait(ctx)
		return err
	}
	return cancel, nil
}
