// Package native defines the narrow boundary to the storage engine: opening a
// database, per-attempt transactions, batched range reads and numeric error
// codes. Engine implementations register themselves as drivers, in the same
// way database drivers do, and the client core stays engine-agnostic.
package native

import (
	"context"
	"fmt"
	"sync"
)

const (
	// MaxKeySize is the engine limit on key length, enforced client side.
	MaxKeySize = 10_000
	// MaxValueSize is the engine limit on value length, enforced client side.
	MaxValueSize = 100_000

	// DefaultBatchSize is the number of key-value pairs a single range read
	// returns before setting the continuation flag.
	DefaultBatchSize = 256
)

// KeyspaceEnd is the exclusive upper boundary of the application keyspace.
var KeyspaceEnd = []byte{0xFF}

// Params selects and configures an engine.
type Params struct {
	// Type is the registered engine name, ex: "mem", "local".
	Type string

	Mem   *MemParams
	Local *LocalParams
}

type MemParams struct {
	// BatchSize overrides DefaultBatchSize for range reads, test hooks use
	// small values to force continuation handling.
	BatchSize int
}

type LocalParams struct {
	DirectoryPath string
	EnableLogging bool
}

// Engine is the driver interface to a storage engine. Each engine
// implementation registers an Engine.
type Engine interface {
	// Open opens access to the engine's database. The engine's network
	// machinery is process-wide: implementations may return a shared
	// Database for the same params.
	Open(ctx context.Context, params Params) (Database, error)
}

// Database is an open handle to the cluster, shared by all transactions.
type Database interface {
	// CreateTransaction returns a fresh transaction handle. Each handle is
	// owned exclusively by one attempt and never reused.
	CreateTransaction() (Transaction, error)

	Close() error
}

// KeyValue is one key-value pair returned by a range read.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Batch is one range-read result. More is set when the range was cut at the
// batch size and a continuation read is needed.
type Batch struct {
	KVs  []KeyValue
	More bool
}

// RangeOptions control a single range read.
type RangeOptions struct {
	// Limit caps the total number of pairs, zero means unlimited.
	Limit int
	// Reverse returns pairs in descending key order, starting at the end
	// of the range.
	Reverse bool
	// BatchSize caps this batch, zero means the engine default.
	BatchSize int
	// Snapshot reads take no read-conflict footprint.
	Snapshot bool
}

// Transaction is one native transaction handle. It is not safe for concurrent
// use; the attempt that created it owns it exclusively. Every blocking call
// suspends on the engine and honors context cancellation.
type Transaction interface {
	// Get returns the value for key, observing the transaction's own
	// uncommitted writes. found is false when the key does not exist.
	Get(ctx context.Context, key []byte, snapshot bool) (value []byte, found bool, err error)

	// GetRange reads [begin, end) in key order, returning at most one
	// batch. A continuation is requested by moving begin (or end, when
	// reversed) past the returned pairs.
	GetRange(ctx context.Context, begin, end []byte, opts RangeOptions) (Batch, error)

	Set(key, value []byte) error

	// SetVersionstampedKey sets a key whose final 4 bytes are a little
	// endian offset at which the engine writes the 10 byte commit version
	// during commit.
	SetVersionstampedKey(keyWithOffset, value []byte) error

	Clear(key []byte) error
	ClearRange(begin, end []byte) error

	// Commit atomically applies the buffered writes. On conflict or
	// cluster failure it returns an *Error carrying the native code.
	Commit(ctx context.Context) error

	// GetVersionstamp returns the 10 byte version assigned at commit.
	// Only valid after a successful Commit.
	GetVersionstamp(ctx context.Context) ([10]byte, error)

	// OnError implements the engine's retry advice: given the code of a
	// failed operation it waits the engine's backoff when the code is
	// retryable and returns nil, or returns the error unchanged when it is
	// not.
	OnError(ctx context.Context, code int) error

	// Cancel aborts the transaction; buffered writes are discarded.
	Cancel()

	// Destroy releases the native handle. The handle is unusable
	// afterwards. Destroy is idempotent.
	Destroy()
}

// engine registry, database/sql driver style
var (
	engines   = make(map[string]Engine)
	enginesMu sync.RWMutex
)

// Register makes an engine available under name. It panics on empty name, nil
// engine or duplicate registration.
func Register(name string, engine Engine) {
	if name == "" {
		panic("native engine register name is missing")
	}
	if engine == nil {
		panic("native engine Register engine is nil")
	}
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, found := engines[name]; found {
		panic("native engine Register already registered " + name)
	}
	engines[name] = engine
}

// Open looks up the engine registered under params.Type and opens a Database.
func Open(ctx context.Context, params Params) (Database, error) {
	enginesMu.RLock()
	e, ok := engines[params.Type]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, params.Type)
	}
	return e.Open(ctx, params)
}

// Engines returns the registered engine names.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	return names
}
