package repodb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/tandem/internal/repodb"
	"github.com/i5heu/tandem/pkg/wire"
)

func open(t *testing.T, dir string) *repodb.RepoDB {
	t.Helper()
	db, err := repodb.Open(repodb.Options{DataDir: dir})
	require.NoError(t, err)
	return db
}

func TestPutObjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	id1, norm1, err := db.PutObject(ctx, wire.KindFile, []byte("hello world\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello world\n"), norm1)

	id2, _, err := db.PutObject(ctx, wire.KindFile, []byte("hello world\n"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	data, err := db.GetObject(ctx, wire.KindFile, id1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world\n"), data)
}

func TestObjectKindsAreDistinctNamespaces(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	fileID, _, err := db.PutObject(ctx, wire.KindFile, []byte("x"))
	require.NoError(t, err)
	treeID, _, err := db.PutObject(ctx, wire.KindTree, []byte("x"))
	require.NoError(t, err)

	// Same bytes, different family, different id (the family is part of
	// the hashed header).
	require.NotEqual(t, fileID, treeID)

	_, err = db.GetObject(ctx, wire.KindTree, fileID)
	require.Error(t, err)
}

func TestGetObjectUnknownIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	_, err := db.GetObject(ctx, wire.KindFile, "1111111111111111111111111111111111111111")
	var we *wire.Error
	require.ErrorAs(t, err, &we)
	require.Equal(t, wire.CodeNotFound, we.Code)
}

func TestGetObjectBadIDLength(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	_, err := db.GetObject(ctx, wire.KindCommit, "abc")
	var we *wire.Error
	require.ErrorAs(t, err, &we)
	require.Equal(t, wire.CodeInvalidIDLength, we.Code)
	require.Equal(t, 40, we.ExpectedLen)
	require.Equal(t, 3, we.ActualLen)
}

func TestPutCommitNormalizesCommitter(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	id, normalized, err := db.PutObject(ctx, wire.KindCommit, []byte(`{"author":"alice","message":"m","tree_id":"t"}`))
	require.NoError(t, err)
	require.Contains(t, string(normalized), `"committer":"alice"`)

	// The stored bytes are the normalized bytes, and the id hashes them.
	data, err := db.GetObject(ctx, wire.KindCommit, id)
	require.NoError(t, err)
	require.Equal(t, normalized, data)
}

func TestPutCommitMalformedIsInvalidData(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	_, _, err := db.PutObject(ctx, wire.KindCommit, []byte("not json"))
	var we *wire.Error
	require.ErrorAs(t, err, &we)
	require.Equal(t, wire.CodeInvalidData, we.Code)
}

func TestOperationAndViewRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	opBytes := []byte(`{"view_id":"v","parent_id":"p"}`)
	opID, err := db.PutOperation(ctx, opBytes)
	require.NoError(t, err)
	got, err := db.GetOperation(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, opBytes, got)

	viewBytes := []byte(`{"workspace_heads":{"ws":"c"}}`)
	viewID, err := db.PutView(ctx, viewBytes)
	require.NoError(t, err)
	gotView, err := db.GetView(ctx, viewID)
	require.NoError(t, err)
	require.Equal(t, viewBytes, gotView)
}

func TestReplaceHeads(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	heads, err := db.Heads(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{db.RootOperationID()}, heads)

	opID, err := db.PutOperation(ctx, []byte(`{"view_id":"v"}`))
	require.NoError(t, err)

	newHeads, err := db.ReplaceHeads(ctx, heads, opID)
	require.NoError(t, err)
	require.Equal(t, []string{opID}, newHeads)

	// A replace that removes nothing leaves both ops as heads.
	op2, err := db.PutOperation(ctx, []byte(`{"view_id":"v2"}`))
	require.NoError(t, err)
	bothHeads, err := db.ReplaceHeads(ctx, nil, op2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{opID, op2}, bothHeads)
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db := open(t, dir)
	fileID, _, err := db.PutObject(ctx, wire.KindFile, []byte("persisted"))
	require.NoError(t, err)
	opID, err := db.PutOperation(ctx, []byte(`{"view_id":"v"}`))
	require.NoError(t, err)
	_, err = db.ReplaceHeads(ctx, []string{db.RootOperationID()}, opID)
	require.NoError(t, err)
	rootOp := db.RootOperationID()
	require.NoError(t, db.Close())

	db = open(t, dir)
	defer db.Close()

	// Fixed bootstrap ids are stable across opens.
	require.Equal(t, rootOp, db.RootOperationID())

	data, err := db.GetObject(ctx, wire.KindFile, fileID)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), data)

	heads, err := db.Heads(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{opID}, heads)

	// The prefix index is rebuilt from disk, not lost.
	resolution, match := db.ResolveOperationIDPrefix(opID)
	require.Equal(t, wire.SingleMatch, resolution)
	require.Equal(t, opID, match)
}

func TestResolveOperationIDPrefix(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	op1, err := db.PutOperation(ctx, []byte(`{"view_id":"a"}`))
	require.NoError(t, err)
	op2, err := db.PutOperation(ctx, []byte(`{"view_id":"b"}`))
	require.NoError(t, err)

	resolution, _ := db.ResolveOperationIDPrefix("")
	require.Equal(t, wire.Ambiguous, resolution, "empty prefix matches every operation")

	resolution, match := db.ResolveOperationIDPrefix(op1)
	require.Equal(t, wire.SingleMatch, resolution)
	require.Equal(t, op1, match)

	resolution, match = db.ResolveOperationIDPrefix(op2)
	require.Equal(t, wire.SingleMatch, resolution)
	require.Equal(t, op2, match)

	resolution, _ = db.ResolveOperationIDPrefix("zzzz")
	require.Equal(t, wire.NoMatch, resolution)
}

func TestOperationViewResolvesWorkspaceCommit(t *testing.T) {
	ctx := context.Background()
	db := open(t, t.TempDir())
	defer db.Close()

	viewID, err := db.PutView(ctx, []byte(`{"workspace_heads":{"ws-a":"commit-a"}}`))
	require.NoError(t, err)
	opID, err := db.PutOperation(ctx, []byte(`{"view_id":"`+viewID+`"}`))
	require.NoError(t, err)

	view, err := db.OperationView(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, "commit-a", view.WorkspaceHeads["ws-a"])
}
