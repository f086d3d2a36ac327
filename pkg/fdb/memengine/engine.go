// Package memengine provides an in-memory native engine used for tests and
// single-process development. It implements the full native contract:
// read-your-writes, snapshot reads, optimistic conflict detection on
// read-range/write-set overlap, batched range reads with continuation and
// versionstamp assignment at commit. It is a stand-in for the real cluster,
// not a storage engine.
package memengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
)

const (
	EngineName = "mem"

	// backoff applied by OnError before a retryable code is surfaced back
	// to the retry loop
	onErrorBackoff = 2 * time.Millisecond
)

type Engine struct{}

//nolint:gochecknoinits
func init() {
	native.Register(EngineName, &Engine{})
}

// Open returns a fresh, empty database. Every call opens an isolated
// keyspace; tests rely on that isolation.
func (e *Engine) Open(_ context.Context, params native.Params) (native.Database, error) {
	batchSize := native.DefaultBatchSize
	if params.Mem != nil && params.Mem.BatchSize > 0 {
		batchSize = params.Mem.BatchSize
	}
	return &Database{
		versions:  make(map[string]uint64),
		batchSize: batchSize,
	}, nil
}

type entry struct {
	key   []byte
	value []byte
}

// Database is a sorted in-memory keyspace with per-key commit versions used
// for conflict detection.
type Database struct {
	mu        sync.Mutex
	entries   []entry
	versions  map[string]uint64
	version   uint64
	batchSize int
	closed    bool

	// fault injection, consumed in commit order
	failCommits      []int
	ambiguousCommits int
}

// FailNextCommits makes the next count commits fail with the given native
// code before any write is applied.
func (d *Database) FailNextCommits(code, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < count; i++ {
		d.failCommits = append(d.failCommits, code)
	}
}

// AmbiguousNextCommit makes the next commit apply its writes and then report
// commit_unknown_result, simulating a communication fault after the commit
// request was sent.
func (d *Database) AmbiguousNextCommit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ambiguousCommits++
}

func (d *Database) CreateTransaction() (native.Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, native.NewError(native.CodeClientInvalidOperation)
	}
	return &transaction{
		db:          d,
		readVersion: d.version,
	}, nil
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.entries = nil
	return nil
}

// locked lookup, returns insertion index and whether the key exists
func (d *Database) find(key []byte) (int, bool) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(d.entries[i].key, key) >= 0
	})
	return i, i < len(d.entries) && bytes.Equal(d.entries[i].key, key)
}

func (d *Database) applySet(key, value []byte) {
	i, found := d.find(key)
	if found {
		d.entries[i].value = append([]byte(nil), value...)
		return
	}
	d.entries = append(d.entries, entry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = entry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	}
}

func (d *Database) applyClear(key []byte) {
	if i, found := d.find(key); found {
		d.entries = append(d.entries[:i], d.entries[i+1:]...)
	}
}

type opKind int

const (
	opSet opKind = iota
	opClear
	opClearRange
	opSetVersionstamped
)

type op struct {
	kind  opKind
	key   []byte // begin key for opClearRange
	end   []byte
	value []byte
}

type transaction struct {
	db          *Database
	readVersion uint64

	ops        []op
	readRanges [][2][]byte

	committed     bool
	canceled      bool
	destroyed     bool
	commitVersion [10]byte
	hasVersion    bool
}

func (t *transaction) stateError() error {
	switch {
	case t.destroyed:
		return native.NewError(native.CodeClientInvalidOperation)
	case t.canceled:
		return native.NewError(native.CodeTransactionCanceled)
	case t.committed:
		return native.NewError(native.CodeUsedDuringCommit)
	}
	return nil
}

func (t *transaction) recordRead(begin, end []byte, snapshot bool) {
	if snapshot {
		return
	}
	t.readRanges = append(t.readRanges, [2][]byte{
		append([]byte(nil), begin...),
		append([]byte(nil), end...),
	})
}

// effective returns the value of key as seen by this transaction: the latest
// committed state overlaid with the transaction's own buffered operations in
// program order.
func (t *transaction) effective(key []byte) ([]byte, bool) {
	t.db.mu.Lock()
	var value []byte
	found := false
	if i, ok := t.db.find(key); ok {
		value = append([]byte(nil), t.db.entries[i].value...)
		found = true
	}
	t.db.mu.Unlock()

	for _, o := range t.ops {
		switch o.kind {
		case opSet:
			if bytes.Equal(o.key, key) {
				value = o.value
				found = true
			}
		case opClear:
			if bytes.Equal(o.key, key) {
				value = nil
				found = false
			}
		case opClearRange:
			if bytes.Compare(o.key, key) <= 0 && bytes.Compare(key, o.end) < 0 {
				value = nil
				found = false
			}
		case opSetVersionstamped:
			// final key unknown before commit, invisible to reads
		}
	}
	return value, found
}

func (t *transaction) Get(ctx context.Context, key []byte, snapshot bool) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := t.stateError(); err != nil {
		return nil, false, err
	}
	keyEnd := append(append([]byte(nil), key...), 0x00)
	t.recordRead(key, keyEnd, snapshot)
	value, found := t.effective(key)
	return value, found, nil
}

func (t *transaction) GetRange(ctx context.Context, begin, end []byte, opts native.RangeOptions) (native.Batch, error) {
	if err := ctx.Err(); err != nil {
		return native.Batch{}, err
	}
	if err := t.stateError(); err != nil {
		return native.Batch{}, err
	}
	if bytes.Compare(begin, end) > 0 {
		return native.Batch{}, native.NewError(native.CodeInvertedRange)
	}
	t.recordRead(begin, end, opts.Snapshot)

	// committed entries in range, overlaid with buffered operations
	t.db.mu.Lock()
	merged := make(map[string][]byte)
	lo, _ := t.db.find(begin)
	for i := lo; i < len(t.db.entries) && bytes.Compare(t.db.entries[i].key, end) < 0; i++ {
		merged[string(t.db.entries[i].key)] = append([]byte(nil), t.db.entries[i].value...)
	}
	t.db.mu.Unlock()

	for _, o := range t.ops {
		switch o.kind {
		case opSet:
			if bytes.Compare(begin, o.key) <= 0 && bytes.Compare(o.key, end) < 0 {
				merged[string(o.key)] = o.value
			}
		case opClear:
			delete(merged, string(o.key))
		case opClearRange:
			for k := range merged {
				if bytes.Compare(o.key, []byte(k)) <= 0 && bytes.Compare([]byte(k), o.end) < 0 {
					delete(merged, k)
				}
			}
		case opSetVersionstamped:
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	batchSize := t.db.batchSize
	if opts.BatchSize > 0 && opts.BatchSize < batchSize {
		batchSize = opts.BatchSize
	}
	more := false
	if len(keys) > batchSize {
		keys = keys[:batchSize]
		more = true
	}

	batch := native.Batch{KVs: make([]native.KeyValue, 0, len(keys)), More: more}
	for _, k := range keys {
		batch.KVs = append(batch.KVs, native.KeyValue{Key: []byte(k), Value: merged[k]})
	}
	return batch, nil
}

func (t *transaction) Set(key, value []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	t.ops = append(t.ops, op{
		kind:  opSet,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (t *transaction) SetVersionstampedKey(keyWithOffset, value []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	if len(keyWithOffset) < 4 {
		return native.NewError(native.CodeClientInvalidOperation)
	}
	offset := binary.LittleEndian.Uint32(keyWithOffset[len(keyWithOffset)-4:])
	if int(offset)+10 > len(keyWithOffset)-4 {
		return native.NewError(native.CodeClientInvalidOperation)
	}
	t.ops = append(t.ops, op{
		kind:  opSetVersionstamped,
		key:   append([]byte(nil), keyWithOffset...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (t *transaction) Clear(key []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	t.ops = append(t.ops, op{kind: opClear, key: append([]byte(nil), key...)})
	return nil
}

func (t *transaction) ClearRange(begin, end []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	if bytes.Compare(begin, end) > 0 {
		return native.NewError(native.CodeInvertedRange)
	}
	t.ops = append(t.ops, op{
		kind: opClearRange,
		key:  append([]byte(nil), begin...),
		end:  append([]byte(nil), end...),
	})
	return nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.stateError(); err != nil {
		return err
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if len(t.db.failCommits) > 0 {
		code := t.db.failCommits[0]
		t.db.failCommits = t.db.failCommits[1:]
		return native.NewError(code)
	}

	// conflict check: any commit after our read version intersecting our
	// read ranges aborts the transaction
	for key, version := range t.db.versions {
		if version <= t.readVersion {
			continue
		}
		for _, r := range t.readRanges {
			if bytes.Compare(r[0], []byte(key)) <= 0 && bytes.Compare([]byte(key), r[1]) < 0 {
				return native.NewError(native.CodeNotCommitted)
			}
		}
	}

	t.db.version++
	binary.BigEndian.PutUint64(t.commitVersion[:8], t.db.version)
	t.hasVersion = true

	touch := func(key []byte) {
		t.db.versions[string(key)] = t.db.version
	}
	for _, o := range t.ops {
		switch o.kind {
		case opSet:
			t.db.applySet(o.key, o.value)
			touch(o.key)
		case opClear:
			t.db.applyClear(o.key)
			touch(o.key)
		case opClearRange:
			lo, _ := t.db.find(o.key)
			for lo < len(t.db.entries) && bytes.Compare(t.db.entries[lo].key, o.end) < 0 {
				touch(t.db.entries[lo].key)
				t.db.entries = append(t.db.entries[:lo], t.db.entries[lo+1:]...)
			}
		case opSetVersionstamped:
			key := append([]byte(nil), o.key[:len(o.key)-4]...)
			offset := binary.LittleEndian.Uint32(o.key[len(o.key)-4:])
			copy(key[offset:offset+10], t.commitVersion[:])
			t.db.applySet(key, o.value)
			touch(key)
		}
	}
	t.committed = true

	if t.db.ambiguousCommits > 0 {
		// the commit applied, the client just never hears back
		t.db.ambiguousCommits--
		return native.NewError(native.CodeCommitUnknownResult)
	}
	return nil
}

func (t *transaction) GetVersionstamp(ctx context.Context) ([10]byte, error) {
	if err := ctx.Err(); err != nil {
		return [10]byte{}, err
	}
	if !t.hasVersion {
		return [10]byte{}, native.NewError(native.CodeClientInvalidOperation)
	}
	return t.commitVersion, nil
}

var retryableCodes = map[int]bool{
	native.CodeTimedOut:            true,
	native.CodeTransactionTooOld:   true,
	native.CodeFutureVersion:       true,
	native.CodeNotCommitted:        true,
	native.CodeCommitUnknownResult: true,
	native.CodeProcessBehind:       true,
	native.CodeDatabaseLocked:      true,
}

func (t *transaction) OnError(ctx context.Context, code int) error {
	if !retryableCodes[code] {
		return native.NewError(code)
	}
	select {
	case <-time.After(onErrorBackoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *transaction) Cancel() {
	if !t.destroyed {
		t.canceled = true
		t.ops = nil
	}
}

func (t *transaction) Destroy() {
	t.destroyed = true
	t.ops = nil
	t.readRanges = nil
}
