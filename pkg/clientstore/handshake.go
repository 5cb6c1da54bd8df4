package clientstore

import (
	"context"
	"fmt"

	"github.com/i5heu/tandem/pkg/rpcclient"
	"github.com/i5heu/tandem/pkg/rpctransport"
	"github.com/i5heu/tandem/pkg/wire"
)

// ExpectedDescriptor is what this client build requires of a server's
// handshake descriptor. Zero-valued fields are not checked.
type ExpectedDescriptor struct {
	ProtocolMajor  uint32
	CommitIDLength int
	ChangeIDLength int
	BackendName    string
	OpStoreName    string
	Capabilities   []wire.Capability // required capabilities; empty means none required
}

// Store bundles the three shims plus the handshake descriptor they were
// validated against.
type Store struct {
	Objects *ObjectBackend
	Ops     *OpStore
	Heads   *OpHeadsStore

	client *rpcclient.Client
	info   wire.RepoInfo
}

// Connect dials address, performs the handshake, and validates it against
// want. Any mismatch aborts with an error naming the failing field.
func Connect(ctx context.Context, connector rpctransport.Connector, address string, want ExpectedDescriptor) (*Store, error) {
	nc, err := connector.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("clientstore: connect to %s: %w", address, err)
	}

	fc := rpctransport.NewFramedConn(nc)
	client := rpcclient.New(fc)

	f := client.Call(ctx, wire.MethodGetRepoInfo, nil)
	info, err := rpcclient.Await[wire.RepoInfo](ctx, f)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("clientstore: handshake with %s: %w", address, err)
	}

	if err := validateHandshake(info, want); err != nil {
		client.Close()
		return nil, err
	}

	heads, err := NewOpHeadsStore(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("clientstore: build op-heads cache: %w", err)
	}

	return &Store{
		Objects: &ObjectBackend{client: client, info: info},
		Ops:     &OpStore{client: client, info: info},
		Heads:   heads,
		client:  client,
		info:    info,
	}, nil
}

func validateHandshake(info wire.RepoInfo, want ExpectedDescriptor) error {
	if want.ProtocolMajor != 0 && info.ProtocolMajor != want.ProtocolMajor {
		return fmt.Errorf("clientstore: protocol mismatch: protocolMajor: server %d, client expects %d",
			info.ProtocolMajor, want.ProtocolMajor)
	}
	if want.CommitIDLength != 0 && info.CommitIDLength != want.CommitIDLength {
		return fmt.Errorf("clientstore: id length mismatch: commitIdLength: server %d, client expects %d",
			info.CommitIDLength, want.CommitIDLength)
	}
	if want.ChangeIDLength != 0 && info.ChangeIDLength != want.ChangeIDLength {
		return fmt.Errorf("clientstore: id length mismatch: changeIdLength: server %d, client expects %d",
			info.ChangeIDLength, want.ChangeIDLength)
	}
	if want.BackendName != "" && info.BackendName != want.BackendName {
		return fmt.Errorf("clientstore: backend mismatch: backendName: server %q, client expects %q",
			info.BackendName, want.BackendName)
	}
	if want.OpStoreName != "" && info.OpStoreName != want.OpStoreName {
		return fmt.Errorf("clientstore: op-store mismatch: opStoreName: server %q, client expects %q",
			info.OpStoreName, want.OpStoreName)
	}
	for _, required := range want.Capabilities {
		if !info.HasCapability(required) {
			return fmt.Errorf("clientstore: missing required capability: capabilities: server does not advertise %q", required)
		}
	}
	return nil
}

// Close closes the underlying client connection.
func (s *Store) Close() error { return s.client.Close() }

// RepoInfo returns the validated handshake descriptor.
func (s *Store) RepoInfo() wire.RepoInfo { return s.info }
