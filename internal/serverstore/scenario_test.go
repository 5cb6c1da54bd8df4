package serverstore_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/tandem/internal/headcoord"
	"github.com/i5heu/tandem/internal/repodb"
	"github.com/i5heu/tandem/internal/serverstore"
	"github.com/i5heu/tandem/pkg/clientstore"
	"github.com/i5heu/tandem/pkg/rpctransport"
	"github.com/i5heu/tandem/pkg/wire"
)

// startServerAt is startServer pinned to a caller-owned data directory, so
// a test can stop the server and bring it back up over the same repository.
func startServerAt(t *testing.T, dir string) (addr string, stop func()) {
	t.Helper()

	db, err := repodb.Open(repodb.Options{DataDir: dir})
	require.NoError(t, err)

	coord := headcoord.New(db, dir+"/heads.json", nil)
	srv := serverstore.New(db, coord, nil)

	tcp := rpctransport.TCP{}
	ctx, cancel := context.WithCancel(context.Background())
	listener, err := tcp.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(ctx, listener)
	<-srv.Ready()

	return listener.Addr().String(), func() {
		cancel()
		listener.Close()
		db.Close()
	}
}

func TestRoundTripSurvivesServerRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	addr, stop := startServerAt(t, dir)
	a := connect(t, addr)

	fileID, err := a.Objects.WriteFile(ctx, strings.NewReader("hello world\n"))
	require.NoError(t, err)

	rootOp := a.Ops.RootOperationID()
	opID := makeChange(t, ctx, a, "ws-a", "hello world\n", rootOp)
	ok, _, _, _, err := a.Heads.UpdateOpHeads(ctx, []string{rootOp}, opID, "ws-a")
	require.NoError(t, err)
	require.True(t, ok)

	a.Close()
	stop()

	addr2, stop2 := startServerAt(t, dir)
	defer stop2()
	b := connect(t, addr2)
	defer b.Close()

	data, err := b.Objects.ReadObject(ctx, wire.KindFile, fileID)
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(data))

	heads, version, _, err := b.Heads.GetHeads(ctx, "ws-a")
	require.NoError(t, err)
	require.Contains(t, heads, opID)
	require.GreaterOrEqual(t, version, uint64(1))
}

func TestHeadsSnapshotTiesVersionToDependentReads(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()
	ctx := context.Background()

	a := connect(t, addr)
	defer a.Close()

	rootOp := a.Ops.RootOperationID()
	opID := makeChange(t, ctx, a, "ws-a", "snap", rootOp)
	ok, _, version, _, err := a.Heads.UpdateOpHeads(ctx, []string{rootOp}, opID, "ws-a")
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, version, snap.Version)
	require.Equal(t, []string{opID}, snap.Heads)
	require.Len(t, snap.Operations, 1, "one operation blob per head")
	require.NotEmpty(t, snap.Views, "the head's view travels with the snapshot")
}

func TestWriteChainPipelinesThenCommits(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()
	ctx := context.Background()

	a := connect(t, addr)
	defer a.Close()

	rootOp := a.Ops.RootOperationID()

	chain := a.NewWriteChain()
	fileID := chain.PutObject(ctx, wire.KindFile, []byte("pipelined\n"))
	treeID := chain.PutObject(ctx, wire.KindTree, []byte(fileID))
	commitID := chain.PutObject(ctx, wire.KindCommit, []byte(`{"author":"a","committer":"a","message":"m","tree_id":"`+treeID+`"}`))
	viewID := chain.PutView(ctx, []byte(`{"workspace_heads":{"ws-a":"`+commitID+`"}}`))
	opID := chain.PutOperation(ctx, []byte(`{"view_id":"`+viewID+`","parent_id":"`+rootOp+`"}`))

	ok, heads, version, err := chain.Commit(ctx, []string{rootOp}, opID, "ws-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, heads, opID)
	require.GreaterOrEqual(t, version, uint64(1))

	// Every locally predicted id resolves to the bytes that were sent.
	data, err := a.Objects.ReadObject(ctx, wire.KindFile, fileID)
	require.NoError(t, err)
	require.Equal(t, "pipelined\n", string(data))

	_, wsHeads, err := headsAndWorkspace(ctx, a)
	require.NoError(t, err)
	require.Equal(t, commitID, wsHeads["ws-a"], "workspace map follows the committed view")
}

func headsAndWorkspace(ctx context.Context, s *clientstore.Store) ([]string, map[string]string, error) {
	heads, _, wsHeads, err := s.Heads.GetHeads(ctx, "ws-a")
	return heads, wsHeads, err
}

func TestUpdateWithRetryConvergesUnderContention(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()
	ctx := context.Background()

	const writers = 4
	stores := make([]*clientstore.Store, writers)
	ops := make([]string, writers)
	for i := range stores {
		stores[i] = connect(t, addr)
		defer stores[i].Close()
	}

	rootOp := stores[0].Ops.RootOperationID()
	for i := range stores {
		ops[i] = makeChange(t, ctx, stores[i], "ws", string(rune('a'+i)), rootOp)
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = stores[i].Heads.UpdateWithRetry(ctx, "ws", clientstore.RetryPolicy{},
				func(ctx context.Context, heads []string, version uint64) ([]string, string, error) {
					// Advance from whatever the current state is; disjoint
					// changes keep every prior head alive.
					return nil, ops[i], nil
				})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	finalHeads, _, _, err := stores[0].Heads.GetHeads(ctx, "ws")
	require.NoError(t, err)
	for i := range ops {
		require.Contains(t, finalHeads, ops[i])
	}
}

func TestWatcherCancelStopsNotifications(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()
	ctx := context.Background()

	a := connect(t, addr)
	defer a.Close()
	b := connect(t, addr)
	defer b.Close()

	var mu sync.Mutex
	var versions []uint64
	cancel, err := a.Heads.Watch(ctx, 0, func(version uint64, heads []string) {
		mu.Lock()
		versions = append(versions, version)
		mu.Unlock()
	})
	require.NoError(t, err)

	rootOp := b.Ops.RootOperationID()
	op1 := makeChange(t, ctx, b, "ws-b", "first", rootOp)
	ok, heads, v, _, err := b.Heads.UpdateOpHeads(ctx, []string{rootOp}, op1, "ws-b")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, cancel(ctx))

	op2 := makeChange(t, ctx, b, "ws-b", "second", op1)
	ok, _, _, _, err = b.Heads.UpdateOpHeadsAt(ctx, heads, op2, v, "ws-b")
	require.NoError(t, err)
	require.True(t, ok)

	// Give a stray notification time to arrive, then check none did.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, got := range versions {
		require.LessOrEqual(t, got, v)
	}
}

func TestNotificationVersionsAreMonotonic(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()
	ctx := context.Background()

	a := connect(t, addr)
	defer a.Close()
	b := connect(t, addr)
	defer b.Close()

	var mu sync.Mutex
	var versions []uint64
	_, err := a.Heads.Watch(ctx, 0, func(version uint64, heads []string) {
		mu.Lock()
		versions = append(versions, version)
		mu.Unlock()
	})
	require.NoError(t, err)

	parent := b.Ops.RootOperationID()
	oldHeads := []string{parent}
	var v uint64
	for i := 0; i < 3; i++ {
		op := makeChange(t, ctx, b, "ws-b", strings.Repeat("x", i+1), parent)
		ok, heads, version, _, err := b.Heads.UpdateOpHeadsAt(ctx, oldHeads, op, v, "ws-b")
		require.NoError(t, err)
		require.True(t, ok)
		parent, oldHeads, v = op, heads, version
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		require.LessOrEqual(t, versions[i-1], versions[i])
	}
}
