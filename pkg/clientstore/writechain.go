package clientstore

import (
	"context"
	"fmt"

	"github.com/i5heu/tandem/internal/hashing"
	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/wire"
)

// WriteChain issues the dependent write hot path — putObject(file) ->
// putObject(tree) -> putObject(commit) -> putOperation -> putView ->
// updateOpHeads — as a pipeline: every put is dispatched the moment its
// bytes are known, each Put method returns the content id immediately
// (computed locally with the same hashing rules the server applies), and
// nothing blocks until the terminal Commit. Commit drains the put
// acknowledgements that are already in flight, cross-checks every
// server-assigned id against its local prediction, and performs the head
// transition.
//
// Commit bytes fed to PutObject as wire.KindCommit must already be canonical (committer
// filled in); server-side normalization would change the id out from under
// the local prediction and Commit reports the mismatch as ErrInvalidData.
type WriteChain struct {
	store   *Store
	pending []chainPut
}

type chainPut struct {
	label       string
	predictedID string
	future      *rpcclient.Future
	serverID    func(payload []byte) (string, error)
}

// NewWriteChain starts an empty chain against s.
func (s *Store) NewWriteChain() *WriteChain {
	return &WriteChain{store: s}
}

// PutObject dispatches a putObject and returns the object's content id
// without waiting for the server's reply.
func (w *WriteChain) PutObject(ctx context.Context, kind wire.ObjectKind, data []byte) string {
	id := hashing.ObjectID(kind, data)
	f := w.store.client.CallPipelined(ctx, wire.MethodPutObject, wire.PutObjectRequest{Kind: kind, Data: data})
	w.pending = append(w.pending, chainPut{
		label:       kind.String(),
		predictedID: id,
		future:      f,
		serverID: func(payload []byte) (string, error) {
			var resp wire.PutObjectResponse
			if err := wire.DecodePayload(payload, &resp); err != nil {
				return "", err
			}
			return resp.ID, nil
		},
	})
	return id
}

// PutOperation dispatches a putOperation and returns its content id
// immediately.
func (w *WriteChain) PutOperation(ctx context.Context, data []byte) string {
	id := hashing.OperationID(data)
	f := w.store.client.CallPipelined(ctx, wire.MethodPutOperation, wire.PutOperationRequest{Data: data})
	w.pending = append(w.pending, chainPut{
		label:       "operation",
		predictedID: id,
		future:      f,
		serverID: func(payload []byte) (string, error) {
			var resp wire.PutOperationResponse
			if err := wire.DecodePayload(payload, &resp); err != nil {
				return "", err
			}
			return resp.ID, nil
		},
	})
	return id
}

// PutView dispatches a putView and returns its content id immediately.
func (w *WriteChain) PutView(ctx context.Context, data []byte) string {
	id := hashing.ViewID(data)
	f := w.store.client.CallPipelined(ctx, wire.MethodPutView, wire.PutViewRequest{Data: data})
	w.pending = append(w.pending, chainPut{
		label:       "view",
		predictedID: id,
		future:      f,
		serverID: func(payload []byte) (string, error) {
			var resp wire.PutViewResponse
			if err := wire.DecodePayload(payload, &resp); err != nil {
				return "", err
			}
			return resp.ID, nil
		},
	})
	return id
}

// Commit is the terminal, and only blocking, call of the chain: it waits
// for the pipelined put acknowledgements, verifies the server assigned the
// ids the chain predicted, and then attempts the head transition replacing
// oldIDs with newOpID. The boolean result follows updateOpHeads semantics —
// false is a CAS miss, not an error, and the returned (heads, version) are
// the fresh state to rebuild against.
func (w *WriteChain) Commit(ctx context.Context, oldIDs []string, newOpID, workspaceID string) (ok bool, heads []string, version uint64, err error) {
	for _, p := range w.pending {
		payload, err := p.future.Wait(ctx)
		if err != nil {
			return false, nil, 0, translateError(err)
		}
		serverID, err := p.serverID(payload)
		if err != nil {
			return false, nil, 0, err
		}
		if serverID != p.predictedID {
			return false, nil, 0, fmt.Errorf("%w: %s id mismatch: predicted %s, server assigned %s",
				ErrInvalidData, p.label, shortHex(p.predictedID), shortHex(serverID))
		}
	}
	w.pending = nil

	ok, heads, version, _, err = w.store.Heads.UpdateOpHeads(ctx, oldIDs, newOpID, workspaceID)
	return ok, heads, version, err
}

func shortHex(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
