package hashing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/tandem/internal/hashing"
	"github.com/i5heu/tandem/pkg/wire"
)

func TestObjectIDIsPinned(t *testing.T) {
	// SHA-1 of "file 12\x00hello world\n" — git's header construction with
	// the family name in place of git's object type. Pinned so the id
	// scheme cannot drift silently; every stored object's address depends
	// on it.
	id := hashing.ObjectID(wire.KindFile, []byte("hello world\n"))
	require.Equal(t, "b19874a05bb38349402d8cdd90d77c3a39208168", id)
	require.Equal(t, "092555587888ebfb32b3998beaf1593c6e8f31c4", hashing.ViewID(nil))
}

func TestIDsAreDeterministicAndKindScoped(t *testing.T) {
	data := []byte("same bytes")
	require.Equal(t, hashing.ObjectID(wire.KindTree, data), hashing.ObjectID(wire.KindTree, data))
	require.NotEqual(t, hashing.ObjectID(wire.KindTree, data), hashing.ObjectID(wire.KindFile, data))
	require.NotEqual(t, hashing.OperationID(data), hashing.ViewID(data))
}

func TestLengthIsPartOfTheHeader(t *testing.T) {
	// A prefix and its extension hash under different length headers
	// ("operation 2\x00" vs "operation 3\x00"), so they get different ids.
	require.NotEqual(t, hashing.OperationID([]byte("abc")), hashing.OperationID([]byte("ab")))
}

func TestValidIDLength(t *testing.T) {
	require.True(t, hashing.ValidIDLength(hashing.ViewID(nil)))
	require.False(t, hashing.ValidIDLength("abc"))
	require.False(t, hashing.ValidIDLength(""))
}
