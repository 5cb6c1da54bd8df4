// Package headcoord is the one place allowed to move op-heads. It
// serializes every transition under a single server lock, drives the
// repository (internal/repodb) and the sidecar (internal/sidecar)
// together, and fans out notifications through internal/watch after
// releasing the lock.
package headcoord

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/tandem/internal/repodb"
	"github.com/i5heu/tandem/internal/sidecar"
	"github.com/i5heu/tandem/internal/watch"
	"github.com/i5heu/tandem/pkg/wire"
)

// Coordinator is the single authority for head transitions against one
// repository. The zero value is not usable; construct with New.
type Coordinator struct {
	db          *repodb.RepoDB
	sidecarPath string
	log         *logrus.Entry

	// mu is the server lock: acquiring it for a transition is the only way
	// to move heads. Held through the CAS check, head replace, and sidecar
	// write; released before watcher notification.
	mu       sync.Mutex
	watchers *watch.Registry
}

// New constructs a Coordinator. sidecarPath is the file backing the
// version/workspace-map sidecar.
func New(db *repodb.RepoDB, sidecarPath string, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		db:          db,
		sidecarPath: sidecarPath,
		log:         log.WithField("component", "headcoord"),
		watchers:    watch.NewRegistry(),
	}
}

// Watchers exposes the registry so the serverstore layer can register new
// watchHeads subscriptions against the same instance that drives
// notifications.
func (c *Coordinator) Watchers() *watch.Registry { return c.watchers }

// GetHeads returns current op-heads from the repository and the version
// and workspace map from the sidecar, read as one consistent triple under
// the server lock.
func (c *Coordinator) GetHeads(ctx context.Context) (heads []string, version uint64, workspaceHeads map[string]string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getHeadsLocked(ctx)
}

func (c *Coordinator) getHeadsLocked(ctx context.Context) ([]string, uint64, map[string]string, error) {
	heads, err := c.db.Heads(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	state, err := sidecar.Load(c.sidecarPath)
	if err != nil {
		return nil, 0, nil, wire.Internal(err.Error(), true)
	}
	return heads, state.Version, state.WorkspaceHeads, nil
}

// UpdateOpHeads performs one head transition: CAS on the sidecar version,
// head replace in the repository, workspace-map update, atomic sidecar
// persist, then watcher notification after the lock is released. A
// version mismatch returns ok=false with the current state — normal CAS
// contention, not an error. Failures between the head replace and the
// sidecar persist roll the replace back so version and heads never
// diverge.
func (c *Coordinator) UpdateOpHeads(ctx context.Context, oldIDs []string, newID string, expectedVersion uint64, workspaceID string) (ok bool, heads []string, version uint64, workspaceHeads map[string]string, err error) {
	c.mu.Lock()

	// Check the sidecar version against expectedVersion.
	state, err := sidecar.Load(c.sidecarPath)
	if err != nil {
		c.mu.Unlock()
		return false, nil, 0, nil, wire.Internal(err.Error(), true)
	}
	if state.Version != expectedVersion {
		// CAS miss: not an error, normal contention.
		currentHeads, currVersion, currWorkspaceHeads, gerr := c.getHeadsLocked(ctx)
		c.mu.Unlock()
		if gerr != nil {
			return false, nil, 0, nil, gerr
		}
		c.log.WithFields(logrus.Fields{
			"method":           "updateOpHeads",
			"expected_version": expectedVersion,
			"version":          currVersion,
			"op_id":            shortID(newID),
		}).Debug("headcoord: cas miss")
		return false, currentHeads, currVersion, currWorkspaceHeads, nil
	}

	// newID must already be a known operation.
	if _, gerr := c.db.GetOperation(ctx, newID); gerr != nil {
		c.mu.Unlock()
		if we, isWire := gerr.(*wire.Error); isWire && we.Code == wire.CodeNotFound {
			return false, nil, 0, nil, wire.InvalidData("operation", fmt.Sprintf("unknown operation %s", shortID(newID)))
		}
		return false, nil, 0, nil, gerr
	}

	// Replace heads in the repository. Capture the pre-transition heads
	// first so a sidecar-write failure below can be rolled back exactly.
	preHeads, herr := c.db.Heads(ctx)
	if herr != nil {
		c.mu.Unlock()
		return false, nil, 0, nil, herr
	}
	newHeads, rerr := c.db.ReplaceHeads(ctx, oldIDs, newID)
	if rerr != nil {
		// Repository state untouched by definition of a failed write.
		c.mu.Unlock()
		return false, nil, 0, nil, rerr
	}

	// Resolve newID's workspace commit and update the workspace map.
	newWorkspaceHeads := copyWorkspaceHeads(state.WorkspaceHeads)
	if workspaceID != "" {
		view, verr := c.db.OperationView(ctx, newID)
		if verr == nil {
			if commitID, present := view.WorkspaceHeads[workspaceID]; present {
				newWorkspaceHeads[workspaceID] = commitID
			}
		} else {
			c.log.WithError(verr).WithField("op_id", shortID(newID)).
				Warn("headcoord: could not resolve workspace commit; leaving workspace map unchanged")
		}
	}

	// Persist the sidecar atomically.
	newVersion := expectedVersion + 1
	newState := sidecar.State{Version: newVersion, WorkspaceHeads: newWorkspaceHeads}
	if werr := sidecar.Write(c.sidecarPath, newState); werr != nil {
		// Undo the head replace before returning.
		if rbErr := c.db.SetHeads(ctx, preHeads); rbErr != nil {
			c.log.WithError(rbErr).Error("headcoord: rollback of head replace failed after sidecar write error")
		}
		c.mu.Unlock()
		return false, nil, 0, nil, wire.Internal(fmt.Sprintf("persist sidecar: %v", werr), true)
	}

	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"method":    "updateOpHeads",
		"version":   newVersion,
		"op_id":     shortID(newID),
		"workspace": workspaceID,
		"watchers":  c.watchers.Len(),
	}).Info("headcoord: head transition")

	// Notify watchers, best-effort, after releasing the lock.
	if nerr := c.watchers.NotifyAll(newVersion, newHeads); nerr != nil {
		c.log.WithError(nerr).Warn("headcoord: one or more watcher notifications failed")
	}

	return true, newHeads, newVersion, newWorkspaceHeads, nil
}

func copyWorkspaceHeads(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
