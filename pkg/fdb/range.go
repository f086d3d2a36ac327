package fdb

import (
	"context"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
)

// KeyValue is one pair produced by a range read.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// RangeOptions control a range read issued through Transaction.GetRange.
type RangeOptions struct {
	// Limit caps the total number of pairs returned, zero means all.
	Limit int
	// Reverse iterates in descending key order.
	Reverse bool
	// Snapshot reads take no read-conflict footprint.
	Snapshot bool
}

// RangeIterator lazily iterates the key-value pairs of one range read,
// re-querying the engine in batches. It follows the usual iterator contract:
// Next, then Entry, Err after Next returns false, Close when done. The
// iterator is finite and is invalidated when the owning attempt ends; it is
// never restartable.
type RangeIterator struct {
	tx    *Transaction
	begin KeySelector
	end   KeySelector
	opts  RangeOptions

	resolved bool
	cursor   []byte // begin of the next batch (end when reversed)
	boundary []byte // fixed opposite bound
	returned int
	batch    []native.KeyValue
	batchPos int
	more     bool
	entry    *KeyValue
	err      error
	closed   bool
}

func (it *RangeIterator) resolve(ctx context.Context) error {
	beginKey, err := resolveSelector(ctx, it.tx.tr, it.begin)
	if err != nil {
		return err
	}
	endKey, err := resolveSelector(ctx, it.tx.tr, it.end)
	if err != nil {
		return err
	}
	if it.opts.Reverse {
		it.cursor = endKey
		it.boundary = beginKey
	} else {
		it.cursor = beginKey
		it.boundary = endKey
	}
	it.resolved = true
	it.more = true
	return nil
}

func (it *RangeIterator) fetch(ctx context.Context) error {
	var begin, end []byte
	if it.opts.Reverse {
		begin, end = it.boundary, it.cursor
	} else {
		begin, end = it.cursor, it.boundary
	}
	limit := 0
	if it.opts.Limit > 0 {
		limit = it.opts.Limit - it.returned
	}
	batch, err := it.tx.tr.GetRange(ctx, begin, end, native.RangeOptions{
		Limit:    limit,
		Reverse:  it.opts.Reverse,
		Snapshot: it.opts.Snapshot,
	})
	if err != nil {
		return err
	}
	it.batch = batch.KVs
	it.batchPos = 0
	it.more = batch.More
	if len(batch.KVs) > 0 {
		last := batch.KVs[len(batch.KVs)-1].Key
		if it.opts.Reverse {
			// continuation excludes the last returned key
			it.cursor = append([]byte(nil), last...)
		} else {
			it.cursor = keyAfter(last)
		}
	}
	return nil
}

// Next advances the iterator, issuing a continuation read when the current
// batch is consumed. It returns false at the end of the range, on error, or
// when the limit is reached.
func (it *RangeIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.closed {
		return false
	}
	if err := it.tx.active(); err != nil {
		it.err = err
		return false
	}
	if it.opts.Limit > 0 && it.returned >= it.opts.Limit {
		return false
	}
	if !it.resolved {
		if err := it.resolve(ctx); err != nil {
			it.err = err
			return false
		}
	}
	for it.batchPos >= len(it.batch) {
		if !it.more {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.batch) == 0 && !it.more {
			return false
		}
	}
	kv := it.batch[it.batchPos]
	it.batchPos++
	it.returned++
	it.entry = &KeyValue{Key: kv.Key, Value: kv.Value}
	return true
}

// Entry returns the pair read by the last successful Next.
func (it *RangeIterator) Entry() *KeyValue {
	return it.entry
}

// Err returns the error that stopped iteration, if any.
func (it *RangeIterator) Err() error {
	return it.err
}

// Close releases the iterator. Further Next calls return false.
func (it *RangeIterator) Close() {
	it.closed = true
	it.batch = nil
	it.entry = nil
}

// GetAll drains the iterator into a slice.
func (it *RangeIterator) GetAll(ctx context.Context) ([]KeyValue, error) {
	defer it.Close()
	var kvs []KeyValue
	for it.Next(ctx) {
		kvs = append(kvs, *it.Entry())
	}
	return kvs, it.Err()
}
