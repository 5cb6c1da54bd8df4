package clientstore

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds the CAS-miss retry loop so contending writers never
// spin tight against the server. Delays grow exponentially from BaseDelay
// up to MaxDelay, and each sleep is jittered by up to half its length.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is what UpdateWithRetry uses when handed the zero
// policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 8,
	BaseDelay:   10 * time.Millisecond,
	MaxDelay:    1 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	// Jitter by up to half the delay so contending writers desynchronize.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// ErrTooMuchContention is returned when every allowed attempt ended in a
// CAS miss without a successful head transition.
var ErrTooMuchContention = fmt.Errorf("%w: head update retries exhausted", ErrOther)

// RebuildFunc recomputes the transition to attempt against the given head
// state: which heads to replace and the operation id replacing them. This
// is the hook the VCS library's transaction layer hangs its rebuild-and-
// retry behavior on; a CAS miss feeds the fresh (heads, version) back in
// rather than surfacing as an error.
type RebuildFunc func(ctx context.Context, heads []string, version uint64) (oldIDs []string, newID string, err error)

// UpdateWithRetry drives updateOpHeads through the CAS loop: attempt,
// observe ok=false, rebuild against the returned state, back off with
// jitter, and try again, up to policy.MaxAttempts. Domain errors abort
// immediately (they are not retriable through this path); only CAS misses
// loop.
func (h *OpHeadsStore) UpdateWithRetry(ctx context.Context, workspaceID string, policy RetryPolicy, rebuild RebuildFunc) (heads []string, version uint64, err error) {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy
	}

	curHeads, curVersion, _, err := h.GetHeads(ctx, workspaceID)
	if err != nil {
		return nil, 0, err
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		oldIDs, newID, err := rebuild(ctx, curHeads, curVersion)
		if err != nil {
			return nil, 0, err
		}

		ok, gotHeads, gotVersion, _, err := h.UpdateOpHeadsAt(ctx, oldIDs, newID, curVersion, workspaceID)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			return gotHeads, gotVersion, nil
		}

		curHeads, curVersion = gotHeads, gotVersion

		select {
		case <-time.After(policy.delay(attempt)):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	return nil, 0, ErrTooMuchContention
}
