package fdb

import (
	"context"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
)

// KeySelector is a logical reference to a key, resolved against live data at
// read time: the key `Offset` positions past the last key less than (or equal
// to, when OrEqual is set) the reference key. Selectors are resolved freshly
// on every attempt; a resolution from a prior attempt is never reused.
type KeySelector struct {
	Key     []byte
	OrEqual bool
	Offset  int
}

// FirstGreaterOrEqual selects the first key >= key.
func FirstGreaterOrEqual(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: false, Offset: 1}
}

// FirstGreaterThan selects the first key > key.
func FirstGreaterThan(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: true, Offset: 1}
}

// LastLessThan selects the last key < key.
func LastLessThan(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: false, Offset: 0}
}

// LastLessOrEqual selects the last key <= key.
func LastLessOrEqual(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: true, Offset: 0}
}

// keyAfter is the immediate successor of key in byte-lexicographic order.
func keyAfter(key []byte) []byte {
	return append(append([]byte(nil), key...), 0x00)
}

// resolveSelector resolves sel to a concrete key using batched range reads on
// tr. Walking past either end of the keyspace resolves to the boundary key —
// a valid terminal result, not an error.
func resolveSelector(ctx context.Context, tr native.Transaction, sel KeySelector) ([]byte, error) {
	if sel.Offset >= 1 {
		return resolveForward(ctx, tr, sel)
	}
	return resolveBackward(ctx, tr, sel)
}

// resolveForward finds the (Offset-1)-indexed key in the ascending scan that
// starts at the first key >= (or >) the reference.
func resolveForward(ctx context.Context, tr native.Transaction, sel KeySelector) ([]byte, error) {
	begin := sel.Key
	if sel.OrEqual {
		begin = keyAfter(sel.Key)
	}
	remaining := sel.Offset
	for {
		batch, err := tr.GetRange(ctx, begin, native.KeyspaceEnd, native.RangeOptions{
			Limit: remaining,
		})
		if err != nil {
			return nil, err
		}
		if remaining <= len(batch.KVs) {
			return batch.KVs[remaining-1].Key, nil
		}
		if !batch.More {
			// ran off the end of the keyspace
			return native.KeyspaceEnd, nil
		}
		remaining -= len(batch.KVs)
		begin = keyAfter(batch.KVs[len(batch.KVs)-1].Key)
	}
}

// resolveBackward finds the (-Offset)-indexed key in the descending scan that
// starts at the last key < (or <=) the reference.
func resolveBackward(ctx context.Context, tr native.Transaction, sel KeySelector) ([]byte, error) {
	end := sel.Key
	if sel.OrEqual {
		end = keyAfter(sel.Key)
	}
	remaining := 1 - sel.Offset
	for {
		batch, err := tr.GetRange(ctx, nil, end, native.RangeOptions{
			Limit:   remaining,
			Reverse: true,
		})
		if err != nil {
			return nil, err
		}
		if remaining <= len(batch.KVs) {
			return batch.KVs[remaining-1].Key, nil
		}
		if !batch.More {
			// ran off the start of the keyspace
			return []byte{}, nil
		}
		remaining -= len(batch.KVs)
		end = batch.KVs[len(batch.KVs)-1].Key
	}
}
