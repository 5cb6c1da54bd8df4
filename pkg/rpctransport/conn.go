package rpctransport

import (
	"bufio"
	"net"
	"sync"

	"github.com/i5heu/tandem/pkg/wire"
)

// FramedConn serializes frame writes (multiple goroutines may pipeline
// calls concurrently) and buffers reads over one underlying net.Conn.
type FramedConn struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// Send writes f atomically with respect to other Send calls on this
// connection, which is what lets promise pipelining issue several frames
// back-to-back without interleaving their bytes.
func (f *FramedConn) Send(frame wire.Frame) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return wire.WriteFrame(f.conn, frame)
}

// Recv blocks for the next frame. Only one goroutine per FramedConn should
// call Recv; the caller is expected to demultiplex by CallID/Kind onto
// per-call channels (see pkg/rpcclient and internal/serverstore).
func (f *FramedConn) Recv() (wire.Frame, error) {
	return wire.ReadFrame(f.r)
}

func (f *FramedConn) Close() error {
	return f.conn.Close()
}

func (f *FramedConn) RemoteAddr() net.Addr {
	return f.conn.RemoteAddr()
}
