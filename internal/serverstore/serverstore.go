// Package serverstore is the RPC-facing half of the server: it accepts
// connections over a pkg/rpctransport Connector, decodes wire.Frame
// requests, and dispatches them against internal/repodb and
// internal/headcoord.
package serverstore

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/tandem/internal/headcoord"
	"github.com/i5heu/tandem/internal/repodb"
	"github.com/i5heu/tandem/pkg/rpctransport"
	"github.com/i5heu/tandem/pkg/wire"
)

// ProtocolMajor/ProtocolMinor are this server's wire protocol version,
// advertised in the handshake descriptor; clients refuse a major they do
// not speak.
const (
	ProtocolMajor = 1
	ProtocolMinor = 0

	BackendName = "tandem-repodb"
	OpStoreName = "tandem-repodb"
)

// Server owns one repository and serves the Store RPC methods against it.
type Server struct {
	db    *repodb.RepoDB
	heads *headcoord.Coordinator
	log   *logrus.Entry

	copyTracking bool // no copy-object family is populated; never advertised

	readyOnce sync.Once
	ready     chan struct{}

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New constructs a Server over db and heads.
func New(db *repodb.RepoDB, heads *headcoord.Coordinator, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		db:    db,
		heads: heads,
		log:   log.WithField("component", "serverstore"),
		ready: make(chan struct{}),
		conns: make(map[*conn]struct{}),
	}
}

// Ready is closed once Serve has taken ownership of its listener and begun
// accepting. It is the observable "ready" event the external lifecycle
// manager waits on before reporting the server as up.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve accepts connections from listener until ctx is canceled or Accept
// fails. Each connection is served on its own goroutine, and each request
// frame dispatches on its own goroutine beneath that.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.readyOnce.Do(func() { close(s.ready) })

	for {
		nc, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("serverstore: accept: %w", err)
			}
		}
		c := &conn{
			server: s,
			fc:     rpctransport.NewFramedConn(nc),
			log:    s.log.WithField("remote", nc.RemoteAddr().String()),
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go c.serve(ctx)
	}
}

func (s *Server) forgetConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) repoInfo() wire.RepoInfo {
	caps := []wire.Capability{wire.CapWatchHeads, wire.CapHeadsSnapshot}
	if s.copyTracking {
		caps = append(caps, wire.CapCopyTracking)
	}
	return wire.RepoInfo{
		ProtocolMajor:   ProtocolMajor,
		ProtocolMinor:   ProtocolMinor,
		VCSVersion:      "tandem-repodb/1",
		BackendName:     BackendName,
		OpStoreName:     OpStoreName,
		CommitIDLength:  20,
		ChangeIDLength:  20,
		RootCommitID:    s.db.RootCommitID(),
		RootChangeID:    s.db.RootChangeID(),
		EmptyTreeID:     s.db.EmptyTreeID(),
		RootOperationID: s.db.RootOperationID(),
		Capabilities:    caps,
	}
}

// callTimeout bounds how long a single dispatched method is allowed to run
// against the store before the connection's context is considered stuck.
// Watch registration is exempt (it is meant to live for the connection's
// lifetime).
const callTimeout = 30 * time.Second

func withCallTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, callTimeout)
}
