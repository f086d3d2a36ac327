package fdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
	"github.com/Wonshtrum/foundationdb-go/pkg/logging"
)

const (
	DefaultMaxAttempts = 10

	// driver-side capped exponential backoff applied between attempts, on
	// top of the engine's own OnError wait
	retryBackoffStart = 2 * time.Millisecond
	retryBackoffCap   = 500 * time.Millisecond
)

// TxFunc is the caller's transactional logic. It may be executed more than
// once: every retry discards all buffered reads and writes and re-runs the
// function from scratch against a fresh handle. Side effects outside the
// transaction must be idempotent or avoided; this is a caller obligation the
// type system cannot enforce.
type TxFunc func(tx *Transaction) (interface{}, error)

// Database wraps an open native database. It is a process-wide shared
// resource: open it once and share it across goroutines; each transaction
// gets its own exclusive handle.
type Database struct {
	db     native.Database
	engine string
	logger logging.Logger
	closed atomic.Bool
}

// Open opens a database on the engine selected by params.
func Open(ctx context.Context, params native.Params) (*Database, error) {
	db, err := native.Open(ctx, params)
	if err != nil {
		return nil, err
	}
	return NewDatabase(db, params.Type), nil
}

// NewDatabase wraps an already-open native database. Most callers use Open;
// tests and embedders that hold a native handle use this.
func NewDatabase(db native.Database, engine string) *Database {
	return &Database{
		db:     db,
		engine: engine,
		logger: logging.Default().WithField(logging.EngineFieldKey, engine),
	}
}

// Close releases the native database. Transactions in flight fail.
func (d *Database) Close() error {
	var merr *multierror.Error
	if d.closed.Swap(true) {
		merr = multierror.Append(merr, ErrDatabaseClosed)
	} else if err := d.db.Close(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("close native database: %w", err))
	}
	return merr.ErrorOrNil()
}

type TxOptions struct {
	maxAttempts    int
	maxElapsedTime time.Duration
	idempotent     bool
	logger         logging.Logger
}

type TxOpt func(*TxOptions)

// WithMaxAttempts caps the number of attempts the retry loop makes.
func WithMaxAttempts(n int) TxOpt {
	return func(o *TxOptions) {
		o.maxAttempts = n
	}
}

// WithMaxElapsedTime caps the wall-clock time consumed across all attempts
// combined, distinct from any per-attempt staleness limit of the engine.
func WithMaxElapsedTime(d time.Duration) TxOpt {
	return func(o *TxOptions) {
		o.maxElapsedTime = d
	}
}

// WithIdempotent declares the transactional logic safe to re-execute even
// when a prior commit may have succeeded. Only then is a maybe-committed
// failure retried instead of surfaced as ErrAmbiguousCommit.
func WithIdempotent() TxOpt {
	return func(o *TxOptions) {
		o.idempotent = true
	}
}

func WithLogger(logger logging.Logger) TxOpt {
	return func(o *TxOptions) {
		o.logger = logger
	}
}

func (d *Database) txOptions(opts []TxOpt) *TxOptions {
	options := &TxOptions{
		maxAttempts: DefaultMaxAttempts,
		logger:      d.logger,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Transact runs fn inside a retry loop. Each attempt gets a fresh handle
// bound to a fresh native transaction; on success the handle is committed and
// fn's value returned. Failures carrying a native code are classified:
// retryable ones are retried while the attempt and elapsed-time budgets last,
// maybe-committed ones are retried only under WithIdempotent, anything else
// is surfaced. Errors raised by fn itself are user errors and propagate
// immediately, never retried.
func (d *Database) Transact(ctx context.Context, fn TxFunc, opts ...TxOpt) (interface{}, error) {
	return d.transact(ctx, fn, true, opts)
}

// ReadTransact is Transact for read-only logic: no commit is issued, so the
// loop has no maybe-committed outcomes.
func (d *Database) ReadTransact(ctx context.Context, fn TxFunc, opts ...TxOpt) (interface{}, error) {
	return d.transact(ctx, fn, false, opts)
}

func (d *Database) transact(ctx context.Context, fn TxFunc, commit bool, opts []TxOpt) (interface{}, error) {
	if d.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	options := d.txOptions(opts)
	// correlation id shared by every attempt of this call
	options.logger = options.logger.WithField(logging.TxIDFieldKey, gonanoid.Must(8))
	start := time.Now()

	var tx *Transaction
	defer func() {
		if p := recover(); p != nil {
			if tx != nil {
				tx.destroy()
			}
			panic(p)
		}
	}()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tr, err := d.db.CreateTransaction()
		if err != nil {
			return nil, fmt.Errorf("create transaction: %w", err)
		}
		tx = newTransaction(tr, options.logger, attempt)

		ret, err := fn(tx)
		if err == nil && commit {
			commitStart := time.Now()
			err = tx.Commit(ctx)
			commitDurations.WithLabelValues(d.engine).Observe(time.Since(commitStart).Seconds())
		}
		if err == nil {
			tx.destroy()
			transactionResults.WithLabelValues(d.engine, "committed").Inc()
			return ret, nil
		}

		c := Classify(err)
		if _, isNative := native.ErrorCode(err); !isNative {
			// user error, not a cluster error: propagate verbatim,
			// with the callback value some callers pair with it
			tx.destroy()
			transactionResults.WithLabelValues(d.engine, "user_error").Inc()
			return ret, err
		}

		elapsed := time.Since(start)
		terminal := d.terminalError(c, options, attempt, elapsed)
		if terminal != nil {
			tx.destroy()
			return nil, terminal
		}

		transactionRetries.WithLabelValues(d.engine).Inc()
		options.logger.WithContext(ctx).
			WithField(logging.AttemptFieldKey, attempt).
			WithField(logging.ErrorCodeFieldKey, c.Code).
			WithField(logging.ElapsedFieldKey, elapsed).
			Debug("retrying transaction")

		if err := tr.OnError(ctx, c.Code); err != nil {
			tx.destroy()
			transactionResults.WithLabelValues(d.engine, "aborted").Inc()
			return nil, fmt.Errorf("%w: %s", ErrAborted, err)
		}
		tx.destroy()
		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// terminalError decides whether a retryable-classified failure must stop the
// loop, returning the terminal error or nil to retry.
func (d *Database) terminalError(c Classification, options *TxOptions, attempt int, elapsed time.Duration) error {
	switch {
	case !c.Retryable:
		transactionResults.WithLabelValues(d.engine, "aborted").Inc()
		return fmt.Errorf("%w: %s", ErrAborted, native.NewError(c.Code))
	case c.MaybeCommitted && !options.idempotent:
		transactionResults.WithLabelValues(d.engine, "ambiguous").Inc()
		return fmt.Errorf("%w (attempt %d, %s elapsed)", ErrAmbiguousCommit, attempt, elapsed.Round(time.Millisecond))
	case attempt+1 >= options.maxAttempts:
		transactionResults.WithLabelValues(d.engine, "exhausted").Inc()
		return fmt.Errorf("%w: %d attempts in %s (code %d)", ErrExhausted, attempt+1, elapsed.Round(time.Millisecond), c.Code)
	case options.maxElapsedTime > 0 && elapsed >= options.maxElapsedTime:
		transactionResults.WithLabelValues(d.engine, "exhausted").Inc()
		return fmt.Errorf("%w: %d attempts in %s (code %d)", ErrExhausted, attempt+1, elapsed.Round(time.Millisecond), c.Code)
	}
	return nil
}

func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := retryBackoffStart << attempt
	if backoff > retryBackoffCap || backoff <= 0 {
		backoff = retryBackoffCap
	}
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Void wraps a procedure with no return value as a TxFunc.
func Void(fn func(tx *Transaction) error) TxFunc {
	return func(tx *Transaction) (interface{}, error) { return nil, fn(tx) }
}

// IsRetryable reports whether err would have been retried by Transact given
// an unlimited budget.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

// IsAmbiguous reports whether err means a commit outcome is unknown.
func IsAmbiguous(err error) bool {
	if errors.Is(err, ErrAmbiguousCommit) {
		return true
	}
	return Classify(err).MaybeCommitted
}
