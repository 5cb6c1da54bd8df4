package headcoord_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/tandem/internal/headcoord"
	"github.com/i5heu/tandem/internal/repodb"
)

func openCoord(t *testing.T) (*headcoord.Coordinator, *repodb.RepoDB) {
	t.Helper()
	dir := t.TempDir()
	db, err := repodb.Open(repodb.Options{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return headcoord.New(db, dir+"/heads.json", nil), db
}

func TestUpdateOpHeadsCASMissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	coord, db := openCoord(t)

	_, version, _, err := coord.GetHeads(ctx)
	require.NoError(t, err)

	opID, err := db.PutOperation(ctx, []byte(`{"view_id":"v1"}`))
	require.NoError(t, err)

	ok, _, _, _, err := coord.UpdateOpHeads(ctx, nil, opID, version+7, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateOpHeadsMonotonicVersion(t *testing.T) {
	ctx := context.Background()
	coord, db := openCoord(t)

	_, v0, _, err := coord.GetHeads(ctx)
	require.NoError(t, err)

	rootHeads, _, _, err := coord.GetHeads(ctx)
	require.NoError(t, err)
	require.Len(t, rootHeads, 1)

	op1, err := db.PutOperation(ctx, []byte(`{"view_id":"v1"}`))
	require.NoError(t, err)
	ok, heads1, v1, _, err := coord.UpdateOpHeads(ctx, rootHeads, op1, v0, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v0+1, v1)
	require.Contains(t, heads1, op1)

	op2, err := db.PutOperation(ctx, []byte(`{"view_id":"v2"}`))
	require.NoError(t, err)
	ok, heads2, v2, _, err := coord.UpdateOpHeads(ctx, heads1, op2, v1, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v1+1, v2)
	require.Contains(t, heads2, op2)
	require.NotContains(t, heads2, op1)
}

func TestUpdateOpHeadsUnknownOperationIsInvalidData(t *testing.T) {
	ctx := context.Background()
	coord, _ := openCoord(t)

	_, version, _, err := coord.GetHeads(ctx)
	require.NoError(t, err)

	_, _, _, _, err = coord.UpdateOpHeads(ctx, nil, "0000000000000000000000000000000000000000", version, "")
	require.Error(t, err)
}
