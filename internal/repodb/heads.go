package repodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/i5heu/tandem/internal/hashing"
	"github.com/i5heu/tandem/pkg/wire"
)

// Heads returns the current op-heads set, read straight from storage.
// There is no second head authority to fall out of sync with.
func (r *RepoDB) Heads(ctx context.Context) ([]string, error) {
	var heads []string
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		heads, err = readHeads(txn)
		return err
	})
	if err != nil {
		return nil, wire.Internal(err.Error(), true)
	}
	return heads, nil
}

// ReplaceHeads removes oldIDs from the current head set and adds newID,
// all inside one badger transaction so the result is atomic with respect
// to concurrent readers. newID must already be a known operation; callers
// (headcoord) check this before calling.
func (r *RepoDB) ReplaceHeads(ctx context.Context, oldIDs []string, newID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newHeads []string
	err := r.db.Update(func(txn *badger.Txn) error {
		current, err := readHeads(txn)
		if err != nil {
			return err
		}
		remove := make(map[string]bool, len(oldIDs))
		for _, id := range oldIDs {
			remove[id] = true
		}
		newHeads = newHeads[:0]
		for _, id := range current {
			if !remove[id] {
				newHeads = append(newHeads, id)
			}
		}
		newHeads = append(newHeads, newID)
		return writeHeads(txn, newHeads)
	})
	if err != nil {
		return nil, wire.Internal(err.Error(), true)
	}
	return newHeads, nil
}

// SetHeads overwrites the head set unconditionally. It exists only for
// headcoord's rollback path: if the sidecar write fails after the head
// replace already landed, the transition must be undone, and undoing a
// ReplaceHeads is itself a ReplaceHeads-shaped write with no oldIDs check.
func (r *RepoDB) SetHeads(ctx context.Context, heads []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.db.Update(func(txn *badger.Txn) error {
		return writeHeads(txn, heads)
	})
	if err != nil {
		return wire.Internal(err.Error(), true)
	}
	return nil
}

func readHeads(txn *badger.Txn) ([]string, error) {
	item, err := txn.Get([]byte(keyHeads))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var heads []string
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &heads)
	})
	return heads, err
}

func writeHeads(txn *badger.Txn, heads []string) error {
	b, err := json.Marshal(heads)
	if err != nil {
		return err
	}
	return txn.Set([]byte(keyHeads), b)
}

// bootstrap ensures the root operation, its root view, the root commit and
// the empty-tree object all exist in storage (idempotent: their bytes are
// fixed constants, so re-running bootstrap on an already-initialized
// repository recomputes and upserts the same ids). It seeds the head set to
// {rootOperationID} only the first time the repository is opened; an
// existing head set from a prior run is left untouched.
func (r *RepoDB) bootstrap() error {
	rootView := encodeView(ViewRecord{WorkspaceHeads: map[string]string{}})
	rootViewID := hashing.ViewID(rootView)

	rootOp := encodeOperation(OperationRecord{ViewID: rootViewID})
	rootOpID := hashing.OperationID(rootOp)

	rootCommitBytes, err := json.Marshal(CommitRecord{Message: "root"})
	if err != nil {
		return fmt.Errorf("marshal root commit: %w", err)
	}
	rootCommitID := hashing.ObjectID(wire.KindCommit, rootCommitBytes)

	rootChangeBytes := []byte("tandem-root-change")
	rootChangeID := hashing.OperationID(rootChangeBytes)

	emptyTreeID := hashing.ObjectID(wire.KindTree, nil)

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(viewKey(rootViewID), rootView); err != nil {
			return err
		}
		if err := txn.Set(operationKey(rootOpID), rootOp); err != nil {
			return err
		}
		if err := txn.Set(objectKey(wire.KindCommit, rootCommitID), rootCommitBytes); err != nil {
			return err
		}
		if err := txn.Set(objectKey(wire.KindTree, emptyTreeID), nil); err != nil {
			return err
		}

		heads, err := readHeads(txn)
		if err != nil {
			return err
		}
		if heads == nil {
			if err := writeHeads(txn, []string{rootOpID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.prefixIndex.Add(rootOpID)
	r.rootOperationID = rootOpID
	r.rootCommitID = rootCommitID
	r.rootChangeID = rootChangeID
	r.emptyTreeID = emptyTreeID
	return nil
}

// OperationView decodes the OperationRecord stored at opID and returns the
// ViewRecord it points to. headcoord uses this to resolve the workspace
// commit a newly-applied operation implies.
func (r *RepoDB) OperationView(ctx context.Context, opID string) (ViewRecord, error) {
	opBytes, err := r.GetOperation(ctx, opID)
	if err != nil {
		return ViewRecord{}, err
	}
	op, err := decodeOperation(opBytes)
	if err != nil {
		return ViewRecord{}, wire.InvalidData("operation", err.Error())
	}
	viewBytes, err := r.GetView(ctx, op.ViewID)
	if err != nil {
		return ViewRecord{}, err
	}
	return decodeView(viewBytes)
}
