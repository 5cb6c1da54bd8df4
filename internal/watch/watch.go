// Package watch implements the watcher fan-out: a registry of
// client-provided notify capabilities, fanned out to after every
// successful head transition once the server lock has been released, so a
// slow or broken watcher can never stall a transition.
package watch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// NotifyFunc pushes one notification to a single watcher. It returns an
// error if delivery failed (broken pipe, stream closed), in which case the
// watcher is dropped.
type NotifyFunc func(version uint64, heads []string) error

type watcher struct {
	id     uint64
	notify NotifyFunc
}

// Registry holds the currently active watchers for one repository.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*watcher
}

// NewRegistry returns an empty watcher registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]*watcher)}
}

// Cancel unsubscribes a watcher. It is returned to callers of Register.
type Cancel func()

// Register adds notify to the registry. If currentVersion > afterVersion,
// notify is invoked once immediately with the current state before
// Register returns, so a subscriber that fell behind catches up without a
// separate read. The returned Cancel removes the watcher; it is safe to
// call more than once.
func (r *Registry) Register(afterVersion, currentVersion uint64, currentHeads []string, notify NotifyFunc) Cancel {
	r.mu.Lock()
	id := r.next
	r.next++
	w := &watcher{id: id, notify: notify}
	r.entries[id] = w
	r.mu.Unlock()

	if currentVersion > afterVersion {
		if err := notify(currentVersion, currentHeads); err != nil {
			r.drop(id)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.drop(id) })
	}
}

func (r *Registry) drop(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// snapshot fixes the watcher set at the moment of a transition; watchers
// registered afterwards only see later transitions.
func (r *Registry) snapshot() []*watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*watcher, 0, len(r.entries))
	for _, w := range r.entries {
		out = append(out, w)
	}
	return out
}

// NotifyAll dispatches one notification per watcher in the registry,
// concurrently, and drops any watcher whose notify call fails. It returns
// the combined delivery errors (for logging only — a notify failure never
// aborts the head transition that triggered it).
func (r *Registry) NotifyAll(version uint64, heads []string) error {
	watchers := r.snapshot()
	if len(watchers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(watchers))
	var failed int32

	for i, w := range watchers {
		wg.Add(1)
		go func(i int, w *watcher) {
			defer wg.Done()
			if err := w.notify(version, heads); err != nil {
				atomic.AddInt32(&failed, 1)
				errs[i] = fmt.Errorf("watcher %d: %w", w.id, err)
				r.drop(w.id)
			}
		}(i, w)
	}
	wg.Wait()

	if failed == 0 {
		return nil
	}
	return multierr.Combine(errs...)
}

// Len reports the number of currently registered watchers. Used in tests
// and in the server's structured log stream (queue_depth-adjacent metric).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
