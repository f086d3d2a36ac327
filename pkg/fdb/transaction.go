package fdb

import (
	"context"
	"fmt"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
	"github.com/Wonshtrum/foundationdb-go/pkg/logging"
	"github.com/Wonshtrum/foundationdb-go/pkg/tuple"
)

type txState int

const (
	txActive txState = iota
	txCommitting
	txCommitted
	txAborted
)

// Transaction is the per-attempt handle exposed to transactional logic. It
// wraps one native transaction with exclusive ownership for the attempt's
// lifetime: the retry driver creates it, the logic uses it, and it is
// destroyed when the attempt ends, whatever the outcome. It is not safe for
// concurrent use.
//
// Reads observe the transaction's own snapshot plus its own uncommitted
// writes. Writes are buffered by the engine and become visible to other
// transactions atomically at commit.
type Transaction struct {
	tr      native.Transaction
	logger  logging.Logger
	state   txState
	attempt int
}

func newTransaction(tr native.Transaction, logger logging.Logger, attempt int) *Transaction {
	return &Transaction{
		tr:      tr,
		logger:  logger,
		attempt: attempt,
	}
}

// Attempt returns the zero-based attempt number this handle belongs to.
func (t *Transaction) Attempt() int {
	return t.attempt
}

func (t *Transaction) active() error {
	if t.state != txActive {
		return ErrUseAfterFinalize
	}
	return nil
}

func checkKey(key []byte) error {
	if len(key) > native.MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	return nil
}

func checkValue(value []byte) error {
	if len(value) > native.MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	return nil
}

func (t *Transaction) get(ctx context.Context, key []byte, snapshot bool) ([]byte, error) {
	if err := t.active(); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	value, found, err := t.tr.Get(ctx, key, snapshot)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

// Get returns the value stored at key, or ErrNotFound. The read observes the
// transaction's own uncommitted writes.
func (t *Transaction) Get(ctx context.Context, key []byte) ([]byte, error) {
	return t.get(ctx, key, false)
}

// GetKey resolves a key selector against live data.
func (t *Transaction) GetKey(ctx context.Context, sel KeySelector) ([]byte, error) {
	if err := t.active(); err != nil {
		return nil, err
	}
	return resolveSelector(ctx, t.tr, sel)
}

// GetRange returns a lazy iterator over [begin, end), both bounds given as
// key selectors resolved when iteration starts. The iterator is finite and
// dies with the attempt that created it.
func (t *Transaction) GetRange(begin, end KeySelector, opts RangeOptions) *RangeIterator {
	return &RangeIterator{tx: t, begin: begin, end: end, opts: opts}
}

// Set buffers a write of value at key.
func (t *Transaction) Set(key, value []byte) error {
	if err := t.active(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return t.tr.Set(key, value)
}

// SetVersionstampedKey buffers a write whose key contains an incomplete
// versionstamp; the engine patches in the commit version at the offset
// recorded by tuple.Tuple.PackWithVersionstamp.
func (t *Transaction) SetVersionstampedKey(keyWithOffset, value []byte) error {
	if err := t.active(); err != nil {
		return err
	}
	if err := checkKey(keyWithOffset); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	return t.tr.SetVersionstampedKey(keyWithOffset, value)
}

// Clear buffers removal of key.
func (t *Transaction) Clear(key []byte) error {
	if err := t.active(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	return t.tr.Clear(key)
}

// ClearRange buffers removal of every key in [begin, end).
func (t *Transaction) ClearRange(begin, end []byte) error {
	if err := t.active(); err != nil {
		return err
	}
	if err := checkKey(begin); err != nil {
		return err
	}
	if err := checkKey(end); err != nil {
		return err
	}
	return t.tr.ClearRange(begin, end)
}

// Commit atomically applies the buffered writes. After Commit returns the
// handle is finalized: any further operation fails with ErrUseAfterFinalize.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.active(); err != nil {
		return err
	}
	t.state = txCommitting
	err := t.tr.Commit(ctx)
	if err != nil {
		t.state = txAborted
		return err
	}
	t.state = txCommitted
	return nil
}

// Cancel aborts the transaction. Buffered writes are discarded; no partial
// writes become visible.
func (t *Transaction) Cancel() {
	if t.state == txActive {
		t.tr.Cancel()
		t.state = txAborted
	}
}

// GetVersionstamp returns the versionstamp assigned at commit. Valid only
// after a successful Commit.
func (t *Transaction) GetVersionstamp(ctx context.Context) (tuple.Versionstamp, error) {
	if t.state != txCommitted {
		return tuple.Versionstamp{}, ErrUseAfterFinalize
	}
	v, err := t.tr.GetVersionstamp(ctx)
	if err != nil {
		return tuple.Versionstamp{}, err
	}
	return tuple.Versionstamp{TransactionVersion: v}, nil
}

// GetVersionstampFuture returns a future resolving to the versionstamp the
// engine assigns when this attempt commits. Obtain it inside transactional
// logic, read it after the retry loop returns success; it stays bound to the
// attempt that actually committed.
func (t *Transaction) GetVersionstampFuture() *FutureVersionstamp {
	return &FutureVersionstamp{tx: t}
}

// FutureVersionstamp is the commit versionstamp of one attempt, known only
// once commit completes.
type FutureVersionstamp struct {
	tx *Transaction
}

// Get resolves the future. It fails until the owning attempt has committed.
func (f *FutureVersionstamp) Get(ctx context.Context) (tuple.Versionstamp, error) {
	if f.tx.state != txCommitted {
		return tuple.Versionstamp{}, ErrUseAfterFinalize
	}
	v, err := f.tx.tr.GetVersionstamp(ctx)
	if err != nil {
		return tuple.Versionstamp{}, err
	}
	return tuple.Versionstamp{TransactionVersion: v}, nil
}

// destroy releases the native handle on every attempt exit path.
func (t *Transaction) destroy() {
	if t.state == txActive {
		t.state = txAborted
	}
	t.tr.Destroy()
}

// Snapshot returns a read-only view whose reads take no conflict footprint:
// they never cause this transaction to conflict with concurrent writers.
func (t *Transaction) Snapshot() *Snapshot {
	return &Snapshot{t: t}
}

// Snapshot is a conflict-free read view of a transaction.
type Snapshot struct {
	t *Transaction
}

// Get is Transaction.Get without recording a read conflict.
func (s *Snapshot) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.t.get(ctx, key, true)
}
