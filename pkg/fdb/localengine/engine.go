// Package localengine implements the native engine contract on top of a
// Badger store, for durable single-process use: development, tooling and the
// CLI. Conflict detection is Badger's own; the engine maps its failures onto
// the native code set so the client retry loop behaves exactly as it does
// against a cluster.
package localengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
	"github.com/Wonshtrum/foundationdb-go/pkg/logging"
)

const (
	EngineName = "local"

	DefaultDirectoryPath = "~/data/fdbkv"

	onErrorBackoff = 2 * time.Millisecond
)

var (
	engineLock    = &sync.Mutex{}
	connectionMap = make(map[string]*Database)
)

type Engine struct{}

//nolint:gochecknoinits
func init() {
	native.Register(EngineName, &Engine{})
}

// Open opens (or reuses) the Badger database at the configured directory.
// Opens of the same path share one Database; Close releases a reference.
func (e *Engine) Open(ctx context.Context, params native.Params) (native.Database, error) {
	engineLock.Lock()
	defer engineLock.Unlock()

	p := params.Local
	if p == nil {
		return nil, fmt.Errorf("missing %s settings: %w", EngineName, native.ErrUnknownEngine)
	}
	path := p.DirectoryPath
	if path == "" {
		path = DefaultDirectoryPath
	}

	connection, ok := connectionMap[path]
	if !ok {
		var logger logging.Logger = logging.DummyLogger{}
		if p.EnableLogging {
			logger = logging.FromContext(ctx).WithField(logging.EngineFieldKey, EngineName)
		}
		opts := badger.DefaultOptions(path)
		opts.Logger = &badgerLogger{logger}
		db, err := badger.Open(opts)
		if err != nil {
			return nil, err
		}
		connection = &Database{
			db:     db,
			logger: logger,
			path:   path,
		}
		connectionMap[path] = connection
	}
	connection.refCount++
	return connection, nil
}

// Database is one open Badger store, possibly shared by several Open calls.
type Database struct {
	db       *badger.DB
	logger   logging.Logger
	path     string
	refCount int
	version  atomic.Uint64
}

func (d *Database) CreateTransaction() (native.Transaction, error) {
	return &transaction{
		d:   d,
		txn: d.db.NewTransaction(true),
	}, nil
}

func (d *Database) Close() error {
	engineLock.Lock()
	defer engineLock.Unlock()
	d.refCount--
	if d.refCount > 0 {
		return nil
	}
	delete(connectionMap, d.path)
	return d.db.Close()
}

type versionstampedOp struct {
	keyWithOffset []byte
	value         []byte
}

type transaction struct {
	d         *Database
	txn       *badger.Txn
	vsOps     []versionstampedOp
	version   [10]byte
	committed bool
	discarded bool
}

func (t *transaction) stateError() error {
	if t.discarded {
		return native.NewError(native.CodeClientInvalidOperation)
	}
	if t.committed {
		return native.NewError(native.CodeUsedDuringCommit)
	}
	return nil
}

// Get ignores the snapshot flag: Badger tracks reads for conflict detection
// only through the transaction handle, which is what we want for plain reads,
// and offers no cheaper conflict-free read inside a write transaction.
func (t *transaction) Get(ctx context.Context, key []byte, _ bool) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := t.stateError(); err != nil {
		return nil, false, err
	}
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapBadgerError(err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, mapBadgerError(err)
	}
	return value, true, nil
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

	batchSize := native.DefaultBatchSize
	if opts.BatchSize > 0 && opts.BatchSize < batchSize {
		batchSize = opts.BatchSize
	}
	limit := opts.Limit

	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Reverse = opts.Reverse
	iterOpts.PrefetchValues = true

	it := t.txn.NewIterator(iterOpts)
	defer it.Close()

	seek := begin
	if opts.Reverse {
		seek = end
	}
	it.Seek(seek)

	inRange := func() bool {
		key := it.Item().Key()
		return bytes.Compare(begin, key) <= 0 && bytes.Compare(key, end) < 0
	}
	// reverse seek lands at the first key <= end, the range is end-exclusive
	if opts.Reverse && it.Valid() && bytes.Equal(it.Item().Key(), end) {
		it.Next()
	}

	batch := native.Batch{}
	for ; it.Valid() && inRange(); it.Next() {
		if limit > 0 && len(batch.KVs) >= limit {
			return batch, nil
		}
		if len(batch.KVs) >= batchSize {
			batch.More = true
			return batch, nil
		}
		value, err := it.Item().ValueCopy(nil)
		if err != nil {
			return native.Batch{}, mapBadgerError(err)
		}
		batch.KVs = append(batch.KVs, native.KeyValue{
			Key:   it.Item().KeyCopy(nil),
			Value: value,
		})
	}
	return batch, nil
}

func (t *transaction) Set(key, value []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	return mapBadgerError(t.txn.Set(append([]byte(nil), key...), append([]byte(nil), value...)))
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
	t.vsOps = append(t.vsOps, versionstampedOp{
		keyWithOffset: append([]byte(nil), keyWithOffset...),
		value:         append([]byte(nil), value...),
	})
	return nil
}

func (t *transaction) Clear(key []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	return mapBadgerError(t.txn.Delete(append([]byte(nil), key...)))
}

func (t *transaction) ClearRange(begin, end []byte) error {
	if err := t.stateError(); err != nil {
		return err
	}
	if bytes.Compare(begin, end) > 0 {
		return native.NewError(native.CodeInvertedRange)
	}
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.PrefetchValues = false
	it := t.txn.NewIterator(iterOpts)
	var keys [][]byte
	for it.Seek(begin); it.Valid() && bytes.Compare(it.Item().Key(), end) < 0; it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, key := range keys {
		if err := t.txn.Delete(key); err != nil {
			return mapBadgerError(err)
		}
	}
	return nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.stateError(); err != nil {
		return err
	}
	version := t.d.version.Add(1)
	binary.BigEndian.PutUint64(t.version[:8], version)
	for _, op := range t.vsOps {
		key := append([]byte(nil), op.keyWithOffset[:len(op.keyWithOffset)-4]...)
		offset := binary.LittleEndian.Uint32(op.keyWithOffset[len(op.keyWithOffset)-4:])
		copy(key[offset:offset+10], t.version[:])
		if err := t.txn.Set(key, op.value); err != nil {
			return mapBadgerError(err)
		}
	}
	if err := t.txn.Commit(); err != nil {
		return mapBadgerError(err)
	}
	t.committed = true
	return nil
}

func (t *transaction) GetVersionstamp(ctx context.Context) ([10]byte, error) {
	if err := ctx.Err(); err != nil {
		return [10]byte{}, err
	}
	if !t.committed {
		return [10]byte{}, native.NewError(native.CodeClientInvalidOperation)
	}
	return t.version, nil
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
	if !t.discarded {
		t.txn.Discard()
		t.discarded = true
	}
}

func (t *transaction) Destroy() {
	if !t.discarded {
		t.txn.Discard()
		t.discarded = true
	}
}

func mapBadgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return native.NewError(native.CodeNotCommitted)
	case errors.Is(err, badger.ErrTxnTooBig):
		return native.NewError(native.CodeTransactionTooLarge)
	case errors.Is(err, badger.ErrDiscardedTxn):
		return native.NewError(native.CodeClientInvalidOperation)
	default:
		return fmt.Errorf("%s: %w", err, native.NewError(native.CodeOperationFailed))
	}
}

// badgerLogger adapts a logging.Logger to badger's Logger interface.
type badgerLogger struct {
	logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.Logger.Warningf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.Logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.Logger.Debugf(format, args...)
}
