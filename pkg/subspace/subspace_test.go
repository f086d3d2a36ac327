package subspace_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Wonshtrum/foundationdb-go/pkg/subspace"
	"github.com/Wonshtrum/foundationdb-go/pkg/tuple"
)

func TestSubspacePackUnpack(t *testing.T) {
	sub := subspace.FromTuple(tuple.Tuple{"users"})
	tup := tuple.Tuple{int64(42), "alice"}

	key := sub.Pack(tup)
	require.True(t, bytes.HasPrefix(key, sub.Bytes()))

	out, err := sub.Unpack(key)
	require.NoError(t, err)
	require.Equal(t, tup, out)
}

func TestSubspaceUnpackForeignKey(t *testing.T) {
	sub := subspace.FromTuple(tuple.Tuple{"users"})
	other := subspace.FromTuple(tuple.Tuple{"groups"})

	_, err := sub.Unpack(other.Pack(tuple.Tuple{int64(1)}))
	require.ErrorIs(t, err, subspace.ErrKeyOutsideSubspace)
}

func TestSubspaceContains(t *testing.T) {
	sub := subspace.New([]byte{0x01, 0x02})
	require.True(t, sub.Contains([]byte{0x01, 0x02}))
	require.True(t, sub.Contains([]byte{0x01, 0x02, 0x03}))
	require.False(t, sub.Contains([]byte{0x01}))
	require.False(t, sub.Contains([]byte{0x01, 0x03}))

	root := subspace.Subspace{}
	require.True(t, root.Contains([]byte{}))
	require.True(t, root.Contains([]byte{0xFF}))
}

// Sub(a).Pack(t) must equal Pack(tuple{a} ++ t) so nesting and flat packing
// address the same keys.
func TestSubspaceSubConcatenation(t *testing.T) {
	parent := subspace.FromTuple(tuple.Tuple{"app"})
	child := parent.Sub("users", int64(7))

	flat := parent.Pack(tuple.Tuple{"users", int64(7), "k"})
	nested := child.Pack(tuple.Tuple{"k"})
	require.Equal(t, flat, nested)
}

func TestSubspaceRange(t *testing.T) {
	sub := subspace.FromTuple(tuple.Tuple{"t"})
	begin, end := sub.Range()

	inside := sub.Pack(tuple.Tuple{int64(1)})
	require.True(t, bytes.Compare(begin, inside) <= 0)
	require.True(t, bytes.Compare(inside, end) < 0)

	// keys of sibling subspaces fall outside the range
	before := subspace.FromTuple(tuple.Tuple{"s"}).Pack(tuple.Tuple{int64(1)})
	after := subspace.FromTuple(tuple.Tuple{"u"}).Pack(tuple.Tuple{int64(1)})
	require.True(t, bytes.Compare(before, begin) < 0)
	require.True(t, bytes.Compare(end, after) <= 0)
}

func TestSubspaceRangeAllFF(t *testing.T) {
	sub := subspace.New([]byte{0xFF, 0xFF})
	_, end := sub.Range()
	require.Equal(t, []byte{0xFF}, end)
}

func TestStrinc(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte{0x00}, []byte{0x01}},
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0x01, 0xFF, 0xFF}, []byte{0x02}},
		{[]byte{0xFE, 0xFF}, []byte{0xFF}},
	}
	for _, tt := range tests {
		out, err := subspace.Strinc(tt.in)
		require.NoError(t, err)
		require.Equal(t, tt.want, out)
	}
}

func TestStrincUnincrementable(t *testing.T) {
	for _, in := range [][]byte{nil, {}, {0xFF}, {0xFF, 0xFF}} {
		_, err := subspace.Strinc(in)
		require.ErrorIs(t, err, subspace.ErrUnincrementableKey)
	}
}

// Strinc returns the minimal upper bound: no key prefixed by the argument
// sorts at or above it, and the key immediately below it is prefixed.
func TestStrincMinimality(t *testing.T) {
	prefix := []byte{0x01, 0xFF}
	end, err := subspace.Strinc(prefix)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, end)

	require.True(t, bytes.Compare(append(append([]byte(nil), prefix...), 0xFF), end) < 0)
	require.True(t, bytes.HasPrefix([]byte{0x01, 0xFF, 0xFF, 0xFF}, prefix))
}
