// Package repodb is the server's on-disk repository: a single
// badger-backed store that is the sole source of truth for objects,
// operations, views and the current op-heads set. Everything else the
// server persists (the head sidecar) is derived metadata.
package repodb

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/tandem/internal/hashing"
	"github.com/i5heu/tandem/pkg/wire"
)

// Badger key prefixes for the object/operation/view/head families.
const (
	prefixObject    = "o:" // o:<kind-byte>:<id>
	prefixOperation = "p:" // p:<id>
	prefixView      = "v:" // v:<id>
	keyHeads        = "h:heads"
)

func kindByte(kind wire.ObjectKind) byte {
	switch kind {
	case wire.KindCommit:
		return 'c'
	case wire.KindTree:
		return 't'
	case wire.KindFile:
		return 'f'
	case wire.KindSymlink:
		return 's'
	case wire.KindCopy:
		return 'p'
	default:
		return '?'
	}
}

func objectKey(kind wire.ObjectKind, id string) []byte {
	return []byte(fmt.Sprintf("%s%c:%s", prefixObject, kindByte(kind), id))
}

func operationKey(id string) []byte {
	return []byte(prefixOperation + id)
}

func viewKey(id string) []byte {
	return []byte(prefixView + id)
}

// RepoDB is the badger-backed object/operation/view/head store.
type RepoDB struct {
	db  *badger.DB
	log *logrus.Entry

	mu sync.Mutex // serializes ReplaceHeads with itself; callers (headcoord) already hold their own lock

	prefixIndex *prefixIndex

	rootOperationID string
	rootCommitID    string
	rootChangeID    string
	emptyTreeID     string
}

// Options configures Open.
type Options struct {
	DataDir string
	Logger  *logrus.Logger
}

// Open opens (or creates) the repository rooted at opts.DataDir.
func Open(opts Options) (*RepoDB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := logDiskUsage(logger, opts.DataDir); err != nil {
		logger.WithError(err).Warn("repodb: could not report disk usage")
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir).WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("repodb: open badger: %w", err)
	}

	r := &RepoDB{
		db:          db,
		log:         logger.WithField("component", "repodb"),
		prefixIndex: newPrefixIndex(),
	}

	if err := r.rebuildPrefixIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repodb: rebuild prefix index: %w", err)
	}

	if err := r.bootstrap(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repodb: bootstrap: %w", err)
	}

	return r, nil
}

func (r *RepoDB) Close() error {
	return r.db.Close()
}

// logDiskUsage logs free space for dataDir at startup, using gopsutil's
// portable disk.Usage instead of a raw syscall.Statfs call so it works the
// same on every platform Go targets.
func logDiskUsage(logger *logrus.Logger, dataDir string) error {
	usage, err := disk.Usage(dataDir)
	if err != nil {
		// The directory may not exist yet on first run; badger will create
		// it, so this is informational only.
		return err
	}
	logger.WithFields(logrus.Fields{
		"path":         dataDir,
		"free_bytes":   usage.Free,
		"total_bytes":  usage.Total,
		"used_percent": usage.UsedPercent,
	}).Info("repodb: data directory disk usage")
	return nil
}

// GetObject returns the raw bytes of the object as stored.
func (r *RepoDB) GetObject(ctx context.Context, kind wire.ObjectKind, id string) ([]byte, error) {
	if !hashing.ValidIDLength(id) {
		return nil, wire.InvalidIDLength(kind.String(), hashing.IDLength*2, len(id))
	}
	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(kind, id))
		if err == badger.ErrKeyNotFound {
			return wire.NotFound(kind.String(), id)
		}
		if err != nil {
			return wire.Internal(err.Error(), true)
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PutObject computes the canonical id for data and writes it; for commits,
// the bytes may be normalized first, and the normalized bytes are what
// gets hashed, stored, and returned.
func (r *RepoDB) PutObject(ctx context.Context, kind wire.ObjectKind, data []byte) (id string, normalized []byte, err error) {
	normalized = data
	if kind == wire.KindCommit {
		normalized, err = normalizeCommit(data)
		if err != nil {
			return "", nil, wire.InvalidData("commit", err.Error())
		}
	}

	id = hashing.ObjectID(kind, normalized)
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(objectKey(kind, id), normalized)
	})
	if err != nil {
		return "", nil, wire.Internal(err.Error(), true)
	}
	return id, normalized, nil
}

// GetOperation returns the raw bytes of an operation record.
func (r *RepoDB) GetOperation(ctx context.Context, id string) ([]byte, error) {
	if !hashing.ValidIDLength(id) {
		return nil, wire.InvalidIDLength("operation", hashing.IDLength*2, len(id))
	}
	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(operationKey(id))
		if err == badger.ErrKeyNotFound {
			return wire.NotFound("operation", id)
		}
		if err != nil {
			return wire.Internal(err.Error(), true)
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PutOperation writes an operation record and returns its content id.
// Callers are responsible for constructing well-formed operation bytes —
// repodb only enforces content-addressing and indexing.
func (r *RepoDB) PutOperation(ctx context.Context, data []byte) (string, error) {
	id := hashing.OperationID(data)
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(operationKey(id), data)
	})
	if err != nil {
		return "", wire.Internal(err.Error(), true)
	}
	r.prefixIndex.Add(id)
	return id, nil
}

// GetView returns the raw bytes of a view record.
func (r *RepoDB) GetView(ctx context.Context, id string) ([]byte, error) {
	if !hashing.ValidIDLength(id) {
		return nil, wire.InvalidIDLength("view", hashing.IDLength*2, len(id))
	}
	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(viewKey(id))
		if err == badger.ErrKeyNotFound {
			return wire.NotFound("view", id)
		}
		if err != nil {
			return wire.Internal(err.Error(), true)
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PutView writes a view record and returns its content id.
func (r *RepoDB) PutView(ctx context.Context, data []byte) (string, error) {
	id := hashing.ViewID(data)
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(viewKey(id), data)
	})
	if err != nil {
		return "", wire.Internal(err.Error(), true)
	}
	return id, nil
}

// ResolveOperationIDPrefix resolves a hex prefix against known operation
// ids via the in-memory prefix index.
func (r *RepoDB) ResolveOperationIDPrefix(hexPrefix string) (wire.PrefixResolution, string) {
	return r.prefixIndex.Resolve(hexPrefix)
}

// RootOperationID, RootCommitID, RootChangeID and EmptyTreeID are the
// handshake descriptor's fixed ids, established once at bootstrap.
func (r *RepoDB) RootOperationID() string { return r.rootOperationID }
func (r *RepoDB) RootCommitID() string    { return r.rootCommitID }
func (r *RepoDB) RootChangeID() string    { return r.rootChangeID }
func (r *RepoDB) EmptyTreeID() string     { return r.emptyTreeID }

func (r *RepoDB) rebuildPrefixIndex() error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixOperation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			r.prefixIndex.Add(string(key[len(prefixOperation):]))
		}
		return nil
	})
}
