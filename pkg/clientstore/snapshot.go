package clientstore

import (
	"context"

	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/wire"
)

// HeadsSnapshot is one consistent read of head state plus the operation and
// view bytes the heads depend on, fetched in a single round trip.
type HeadsSnapshot struct {
	Heads      []string
	Version    uint64
	Operations [][]byte
	Views      [][]byte
}

// Snapshot fetches a consistent heads snapshot from the server. It returns
// ErrUnsupported without a network call if the server did not advertise the
// headsSnapshot capability during the handshake; capability-gated methods
// are never invoked when absent.
func (s *Store) Snapshot(ctx context.Context) (HeadsSnapshot, error) {
	if !s.info.HasCapability(wire.CapHeadsSnapshot) {
		return HeadsSnapshot{}, ErrUnsupported
	}
	f := s.client.Call(ctx, wire.MethodGetHeadsSnapshot, nil)
	resp, err := rpcclient.Await[wire.GetHeadsSnapshotResponse](ctx, f)
	if err != nil {
		return HeadsSnapshot{}, translateError(err)
	}
	return HeadsSnapshot{
		Heads:      resp.Heads,
		Version:    resp.Version,
		Operations: resp.Operations,
		Views:      resp.Views,
	}, nil
}
