package rpcclient

import (
	"context"

	"github.com/i5heu/tandem/pkg/wire"
)

// Await waits for f and decodes its payload into a T. Callers that need a
// typed result call Await directly; callers only pipelining a dependency
// chain skip it entirely until the terminal call.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var out T
	payload, err := f.Wait(ctx)
	if err != nil {
		return out, err
	}
	if decErr := wire.DecodePayload(payload, &out); decErr != nil {
		return out, decErr
	}
	return out, nil
}
