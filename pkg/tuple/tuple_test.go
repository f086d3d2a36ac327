package tuple_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"

	"github.com/Wonshtrum/foundationdb-go/pkg/tuple"
)

func TestTupleRoundTrip(t *testing.T) {
	uuid1 := tuple.UUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}
	vs := tuple.Versionstamp{
		TransactionVersion: [10]byte{0, 0, 0, 0, 0, 0, 0, 42, 0, 1},
		UserVersion:        7,
	}
	tests := []struct {
		name string
		in   tuple.Tuple
	}{
		{"empty", tuple.Tuple{}},
		{"nil_element", tuple.Tuple{nil}},
		{"bytes", tuple.Tuple{[]byte{}, []byte{0x00}, []byte{0x00, 0xFF, 0x00}, []byte("plain")}},
		{"strings", tuple.Tuple{"", "hello", "with\x00nul", "ünïcödé"}},
		{"integers", tuple.Tuple{int64(0), int64(1), int64(-1), int64(255), int64(256), int64(-255), int64(-256), int64(math.MaxInt64), int64(math.MinInt64)}},
		{"large_unsigned", tuple.Tuple{uint64(math.MaxUint64)}},
		{"floats", tuple.Tuple{float32(1.5), float32(-1.5), float64(3.14159), float64(-2.71828), math.Inf(1), math.Inf(-1)}},
		{"bools", tuple.Tuple{true, false}},
		{"uuid", tuple.Tuple{uuid1}},
		{"versionstamp", tuple.Tuple{vs}},
		{"nested", tuple.Tuple{tuple.Tuple{}, tuple.Tuple{nil, "inner", int64(3)}, tuple.Tuple{tuple.Tuple{[]byte{0x00}}}}},
		{"mixed", tuple.Tuple{nil, []byte("k"), "s", int64(-42), float64(0.5), true, uuid1, tuple.Tuple{"deep"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := tt.in.Pack()
			out, err := tuple.Unpack(packed)
			require.NoError(t, err)
			if diff := deep.Equal(tt.in, out); diff != nil {
				t.Fatalf("round trip mismatch: %v", diff)
			}
		})
	}
}

func TestTupleIntDecaysToInt64(t *testing.T) {
	packed := tuple.Tuple{42}.Pack()
	out, err := tuple.Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, tuple.Tuple{int64(42)}, out)
}

// TestTupleCanonicalEncodings pins the byte-exact wire format. These vectors
// are shared with clients in other languages; changing any of them breaks
// cross-binding interoperability.
func TestTupleCanonicalEncodings(t *testing.T) {
	tests := []struct {
		name string
		in   tuple.Tuple
		want []byte
	}{
		{"nil", tuple.Tuple{nil}, []byte{0x00}},
		{"empty_bytes", tuple.Tuple{[]byte{}}, []byte{0x01, 0x00}},
		{"nul_bytes", tuple.Tuple{[]byte{0x00}}, []byte{0x01, 0x00, 0xFF, 0x00}},
		{"string_foo", tuple.Tuple{"foo"}, []byte{0x02, 'f', 'o', 'o', 0x00}},
		{"zero", tuple.Tuple{int64(0)}, []byte{0x14}},
		{"one", tuple.Tuple{int64(1)}, []byte{0x15, 0x01}},
		{"minus_one", tuple.Tuple{int64(-1)}, []byte{0x13, 0xFE}},
		{"255", tuple.Tuple{int64(255)}, []byte{0x15, 0xFF}},
		{"256", tuple.Tuple{int64(256)}, []byte{0x16, 0x01, 0x00}},
		{"minus_255", tuple.Tuple{int64(-255)}, []byte{0x13, 0x00}},
		{"minus_256", tuple.Tuple{int64(-256)}, []byte{0x12, 0xFE, 0xFF}},
		{"false", tuple.Tuple{false}, []byte{0x26}},
		{"true", tuple.Tuple{true}, []byte{0x27}},
		{"nested_nil", tuple.Tuple{tuple.Tuple{nil}}, []byte{0x05, 0x00, 0xFF, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.in.Pack())
		})
	}
}

// TestTupleOrderPreservation verifies that byte-lexicographic order of packed
// tuples equals tuple order under the fixed cross-type ordering.
func TestTupleOrderPreservation(t *testing.T) {
	// strictly ascending under the documented ordering
	ordered := []tuple.Tuple{
		{nil},
		{[]byte{}},
		{[]byte{0x00}},
		{[]byte{0x00, 0x00}},
		{[]byte{0x01}},
		{[]byte("a")},
		{""},
		{"a"},
		{"a\x00b"},
		{"a\x01"},
		{"b"},
		{tuple.Tuple{}},
		{tuple.Tuple{int64(1)}},
		{tuple.Tuple{int64(2)}},
		{int64(math.MinInt64)},
		{int64(-257)},
		{int64(-256)},
		{int64(-255)},
		{int64(-1)},
		{int64(0)},
		{int64(1)},
		{int64(255)},
		{int64(256)},
		{int64(math.MaxInt64)},
		{uint64(math.MaxUint64)},
		{float32(math.Inf(-1))},
		{float32(-1.5)},
		{float32(0)},
		{float32(1.5)},
		{float32(math.Inf(1))},
		{math.Inf(-1)},
		{-1.5},
		{math.Copysign(0, -1)},
		{0.0},
		{1.5},
		{math.Inf(1)},
		{false},
		{true},
		{tuple.UUID{}},
		{tuple.UUID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{tuple.Versionstamp{TransactionVersion: [10]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}}},
		// multi-element tuples compare element-wise, prefix first
		{"z"},
		{"z", int64(1)},
		{"z", int64(2)},
		{"z", int64(2), nil},
	}
	packed := make([][]byte, len(ordered))
	for i, tp := range ordered {
		packed[i] = tp.Pack()
	}
	for i := 0; i < len(packed); i++ {
		for j := i + 1; j < len(packed); j++ {
			if bytes.Compare(packed[i], packed[j]) >= 0 {
				t.Errorf("encode(%v) >= encode(%v), want <", ordered[i], ordered[j])
			}
		}
	}
}

func TestTupleNaNCanonical(t *testing.T) {
	nan1 := math.NaN()
	nan2 := math.Float64frombits(math.Float64bits(math.NaN()) | 0x01)
	require.Equal(t, tuple.Tuple{nan1}.Pack(), tuple.Tuple{nan2}.Pack())

	out, err := tuple.Unpack(tuple.Tuple{nan1}.Pack())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, math.IsNaN(out[0].(float64)))
}

func TestTupleNegativeZero(t *testing.T) {
	neg := tuple.Tuple{math.Copysign(0, -1)}.Pack()
	pos := tuple.Tuple{0.0}.Pack()
	require.Equal(t, -1, bytes.Compare(neg, pos))
}

func TestUnpackMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"truncated_int", []byte{0x16, 0x01}},
		{"truncated_uuid", []byte{0x30, 0x01, 0x02}},
		{"truncated_double", []byte{0x21, 0x00}},
		{"unterminated_string", []byte{0x02, 'a', 'b'}},
		{"unterminated_nested", []byte{0x05, 0x15, 0x01}},
		{"unknown_code", []byte{0xFE}},
		{"truncated_versionstamp", []byte{0x33, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tuple.Unpack(tt.in)
			require.Error(t, err)
		})
	}
}

func TestUnpackRejectsUnsupportedElement(t *testing.T) {
	_, err := tuple.Tuple{struct{}{}}.PackErr()
	require.ErrorIs(t, err, tuple.ErrUnsupportedElement)
}

func TestPackWithVersionstamp(t *testing.T) {
	vs := tuple.IncompleteVersionstamp(3)
	packed, err := tuple.Tuple{"k", vs}.PackWithVersionstamp([]byte("p"))
	require.NoError(t, err)

	// trailing 4 bytes locate the 10 byte transaction version:
	// "p" + (0x02 'k' 0x00) + versionstamp type code
	wantOffset := uint32(1 + 3 + 1)
	gotOffset := binary.LittleEndian.Uint32(packed[len(packed)-4:])
	require.Equal(t, wantOffset, gotOffset)

	// the placeholder bytes are all 0xFF at the recorded offset
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 10), packed[gotOffset:gotOffset+10])

	// user version follows the transaction version
	require.Equal(t, uint16(3), binary.BigEndian.Uint16(packed[gotOffset+10:gotOffset+12]))
}

func TestPackWithVersionstampErrors(t *testing.T) {
	_, err := tuple.Tuple{"no stamp"}.PackWithVersionstamp(nil)
	require.ErrorIs(t, err, tuple.ErrNoIncompleteVersionstamp)

	_, err = tuple.Tuple{tuple.IncompleteVersionstamp(0), tuple.IncompleteVersionstamp(1)}.PackWithVersionstamp(nil)
	require.ErrorIs(t, err, tuple.ErrMultipleIncompleteVersionstamps)
}

func TestHasIncompleteVersionstamp(t *testing.T) {
	require.False(t, tuple.Tuple{"a", int64(1)}.HasIncompleteVersionstamp())
	require.True(t, tuple.Tuple{tuple.IncompleteVersionstamp(0)}.HasIncompleteVersionstamp())
	require.True(t, tuple.Tuple{tuple.Tuple{tuple.IncompleteVersionstamp(0)}}.HasIncompleteVersionstamp())
	require.False(t, tuple.Tuple{tuple.Versionstamp{TransactionVersion: [10]byte{1}}}.HasIncompleteVersionstamp())
}
