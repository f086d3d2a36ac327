package memengine_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/memengine"
	"github.com/Wonshtrum/foundationdb-go/pkg/fdb/native"
)

func openDatabase(t *testing.T, params native.Params) *memengine.Database {
	t.Helper()
	db, err := (&memengine.Engine{}).Open(context.Background(), params)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.(*memengine.Database)
}

func mustTx(t *testing.T, db *memengine.Database) native.Transaction {
	t.Helper()
	tx, err := db.CreateTransaction()
	require.NoError(t, err)
	return tx
}

func commitSet(t *testing.T, db *memengine.Database, key, value string) {
	t.Helper()
	ctx := context.Background()
	tx := mustTx(t, db)
	defer tx.Destroy()
	require.NoError(t, tx.Set([]byte(key), []byte(value)))
	require.NoError(t, tx.Commit(ctx))
}

func TestReadYourWrites(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	tx := mustTx(t, db)
	defer tx.Destroy()

	_, found, err := tx.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tx.Set([]byte("k"), []byte("v")))
	value, found, err := tx.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, tx.Clear([]byte("k")))
	_, found, err = tx.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCommitVisibility(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})

	tx := mustTx(t, db)
	require.NoError(t, tx.Set([]byte("k"), []byte("v")))

	// not visible to other transactions before commit
	other := mustTx(t, db)
	_, found, err := other.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.False(t, found)
	other.Destroy()

	require.NoError(t, tx.Commit(ctx))
	tx.Destroy()

	after := mustTx(t, db)
	defer after.Destroy()
	value, found, err := after.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)
}

func TestAbandonedWritesDiscarded(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})

	tx := mustTx(t, db)
	require.NoError(t, tx.Set([]byte("k"), []byte("v")))
	tx.Destroy()

	after := mustTx(t, db)
	defer after.Destroy()
	_, found, err := after.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.False(t, found)
}

func TestConflictDetection(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	commitSet(t, db, "k", "v0")

	reader := mustTx(t, db)
	defer reader.Destroy()
	_, _, err := reader.Get(ctx, []byte("k"), false)
	require.NoError(t, err)

	// concurrent writer commits to the key the reader observed
	commitSet(t, db, "k", "v1")

	require.NoError(t, reader.Set([]byte("k"), []byte("v2")))
	err = reader.Commit(ctx)
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeNotCommitted, code)
}

func TestSnapshotReadsDoNotConflict(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	commitSet(t, db, "k", "v0")

	reader := mustTx(t, db)
	defer reader.Destroy()
	_, _, err := reader.Get(ctx, []byte("k"), true)
	require.NoError(t, err)

	commitSet(t, db, "k", "v1")

	require.NoError(t, reader.Set([]byte("other"), []byte("x")))
	require.NoError(t, reader.Commit(ctx))
}

func TestBlindWritesDoNotConflict(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})

	a := mustTx(t, db)
	b := mustTx(t, db)
	defer a.Destroy()
	defer b.Destroy()

	require.NoError(t, a.Set([]byte("k"), []byte("a")))
	require.NoError(t, b.Set([]byte("k"), []byte("b")))
	require.NoError(t, a.Commit(ctx))
	require.NoError(t, b.Commit(ctx))
}

func TestGetRangeBatching(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{Mem: &native.MemParams{BatchSize: 3}})
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		commitSet(t, db, k, "v-"+k)
	}

	tx := mustTx(t, db)
	defer tx.Destroy()

	batch, err := tx.GetRange(ctx, []byte("a"), []byte("z"), native.RangeOptions{})
	require.NoError(t, err)
	require.True(t, batch.More)
	require.Len(t, batch.KVs, 3)
	require.Equal(t, []byte("a"), batch.KVs[0].Key)
	require.Equal(t, []byte("c"), batch.KVs[2].Key)

	// continuation starts past the last returned key
	batch, err = tx.GetRange(ctx, []byte("c\x00"), []byte("z"), native.RangeOptions{})
	require.NoError(t, err)
	require.False(t, batch.More)
	require.Len(t, batch.KVs, 2)
	require.Equal(t, []byte("d"), batch.KVs[0].Key)
	require.Equal(t, []byte("e"), batch.KVs[1].Key)
}

func TestGetRangeReverseAndLimit(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	for _, k := range []string{"a", "b", "c"} {
		commitSet(t, db, k, k)
	}

	tx := mustTx(t, db)
	defer tx.Destroy()

	batch, err := tx.GetRange(ctx, []byte("a"), []byte("z"), native.RangeOptions{Reverse: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, batch.KVs, 2)
	require.Equal(t, []byte("c"), batch.KVs[0].Key)
	require.Equal(t, []byte("b"), batch.KVs[1].Key)
}

func TestGetRangeSeesBufferedWrites(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	commitSet(t, db, "a", "committed")
	commitSet(t, db, "b", "doomed")

	tx := mustTx(t, db)
	defer tx.Destroy()
	require.NoError(t, tx.Set([]byte("c"), []byte("buffered")))
	require.NoError(t, tx.Clear([]byte("b")))

	batch, err := tx.GetRange(ctx, []byte("a"), []byte("z"), native.RangeOptions{})
	require.NoError(t, err)
	require.Len(t, batch.KVs, 2)
	require.Equal(t, []byte("a"), batch.KVs[0].Key)
	require.Equal(t, []byte("c"), batch.KVs[1].Key)
}

func TestGetRangeInverted(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	tx := mustTx(t, db)
	defer tx.Destroy()

	_, err := tx.GetRange(ctx, []byte("z"), []byte("a"), native.RangeOptions{})
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeInvertedRange, code)
}

func TestClearRange(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	for _, k := range []string{"a", "b", "c", "d"} {
		commitSet(t, db, k, k)
	}

	tx := mustTx(t, db)
	require.NoError(t, tx.ClearRange([]byte("b"), []byte("d")))
	require.NoError(t, tx.Commit(ctx))
	tx.Destroy()

	after := mustTx(t, db)
	defer after.Destroy()
	batch, err := after.GetRange(ctx, []byte("a"), []byte("z"), native.RangeOptions{})
	require.NoError(t, err)
	require.Len(t, batch.KVs, 2)
	require.Equal(t, []byte("a"), batch.KVs[0].Key)
	require.Equal(t, []byte("d"), batch.KVs[1].Key)
}

func TestFailNextCommits(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	db.FailNextCommits(native.CodeNotCommitted, 1)

	tx := mustTx(t, db)
	defer tx.Destroy()
	require.NoError(t, tx.Set([]byte("k"), []byte("v")))
	err := tx.Commit(ctx)
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeNotCommitted, code)

	// injected failure aborts before applying writes
	after := mustTx(t, db)
	defer after.Destroy()
	_, found, err := after.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.False(t, found)
}

func TestAmbiguousCommitAppliesWrites(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	db.AmbiguousNextCommit()

	tx := mustTx(t, db)
	defer tx.Destroy()
	require.NoError(t, tx.Set([]byte("k"), []byte("v")))
	err := tx.Commit(ctx)
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeCommitUnknownResult, code)

	after := mustTx(t, db)
	defer after.Destroy()
	value, found, err := after.Get(ctx, []byte("k"), false)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)
}

func TestVersionstampedKey(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})

	// prefix, 10 byte placeholder, 4 byte little-endian offset
	key := append([]byte("log/"), make([]byte, 10)...)
	offset := make([]byte, 4)
	binary.LittleEndian.PutUint32(offset, 4)
	key = append(key, offset...)

	tx := mustTx(t, db)
	require.NoError(t, tx.SetVersionstampedKey(key, []byte("entry")))
	require.NoError(t, tx.Commit(ctx))
	stamp, err := tx.GetVersionstamp(ctx)
	require.NoError(t, err)
	tx.Destroy()

	want := append([]byte("log/"), stamp[:]...)
	after := mustTx(t, db)
	defer after.Destroy()
	value, found, err := after.Get(ctx, want, false)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("entry"), value)
}

func TestGetVersionstampBeforeCommit(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	tx := mustTx(t, db)
	defer tx.Destroy()

	_, err := tx.GetVersionstamp(ctx)
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeClientInvalidOperation, code)
}

func TestUseAfterCancel(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	tx := mustTx(t, db)
	defer tx.Destroy()

	tx.Cancel()
	err := tx.Set([]byte("k"), []byte("v"))
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeTransactionCanceled, code)

	err = tx.Commit(ctx)
	code, ok = native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeTransactionCanceled, code)
}

func TestUseAfterCommit(t *testing.T) {
	ctx := context.Background()
	db := openDatabase(t, native.Params{})
	tx := mustTx(t, db)
	defer tx.Destroy()

	require.NoError(t, tx.Commit(ctx))
	err := tx.Set([]byte("k"), []byte("v"))
	code, ok := native.ErrorCode(err)
	require.True(t, ok)
	require.Equal(t, native.CodeUsedDuringCommit, code)
}
