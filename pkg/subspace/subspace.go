// Package subspace partitions the global keyspace into disjoint logical
// regions identified by a fixed byte prefix. A Subspace packs tuples under its
// prefix and derives the key range covering everything it contains.
package subspace

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Wonshtrum/foundationdb-go/pkg/tuple"
)

var (
	ErrKeyOutsideSubspace = errors.New("key is not contained in subspace")
	ErrUnincrementableKey = errors.New("key has no greater key of the same length")
)

// Subspace is an immutable byte prefix. The zero value is the root subspace
// covering the entire keyspace.
type Subspace struct {
	rawPrefix []byte
}

// New returns a subspace rooted at the given raw byte prefix. The prefix is
// copied; callers may reuse the slice.
func New(prefix []byte) Subspace {
	return Subspace{rawPrefix: append([]byte(nil), prefix...)}
}

// FromTuple returns a subspace whose prefix is the packed form of t.
func FromTuple(t tuple.Tuple) Subspace {
	return Subspace{rawPrefix: t.Pack()}
}

// Sub returns a child subspace: the parent prefix extended with the packed
// elements. Child subspaces of distinct elements never overlap.
func (s Subspace) Sub(el ...tuple.TupleElement) Subspace {
	return Subspace{rawPrefix: append(append([]byte(nil), s.rawPrefix...), tuple.Tuple(el).Pack()...)}
}

// Bytes returns the raw prefix.
func (s Subspace) Bytes() []byte {
	return s.rawPrefix
}

// Pack returns the key for t inside the subspace: prefix ++ encode(t).
func (s Subspace) Pack(t tuple.Tuple) []byte {
	return append(append([]byte(nil), s.rawPrefix...), t.Pack()...)
}

// PackWithVersionstamp packs a tuple holding exactly one incomplete
// versionstamp under the subspace prefix, for use with versionstamped-key
// writes.
func (s Subspace) PackWithVersionstamp(t tuple.Tuple) ([]byte, error) {
	return t.PackWithVersionstamp(s.rawPrefix)
}

// Unpack strips the subspace prefix from key and decodes the remainder. It
// fails when key does not start with the prefix.
func (s Subspace) Unpack(key []byte) (tuple.Tuple, error) {
	if !s.Contains(key) {
		return nil, fmt.Errorf("%w: %q", ErrKeyOutsideSubspace, key)
	}
	return tuple.Unpack(key[len(s.rawPrefix):])
}

// Contains reports whether key starts with the subspace prefix.
func (s Subspace) Contains(key []byte) bool {
	return bytes.HasPrefix(key, s.rawPrefix)
}

// Range returns the half-open key range [prefix, strinc(prefix)) covering
// every key in the subspace. The root subspace covers ["", 0xFF).
func (s Subspace) Range() (begin, end []byte) {
	begin = append([]byte(nil), s.rawPrefix...)
	end, err := Strinc(s.rawPrefix)
	if err != nil {
		// all-0xFF prefix, fall back to the keyspace upper boundary
		end = []byte{0xFF}
	}
	return begin, end
}

// Strinc returns the first key not prefixed by the argument: the argument
// with trailing 0xFF bytes removed and its last byte incremented. This is the
// minimal exclusive upper bound over all keys starting with the prefix.
func Strinc(prefix []byte) ([]byte, error) {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			out := make([]byte, i+1)
			copy(out, prefix[:i+1])
			out[i]++
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnincrementableKey, prefix)
}
