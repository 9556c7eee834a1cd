package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progression-engine/progression"
)

func entry(id, key string) progression.JournalEntry {
	return progression.JournalEntry{ID: id, UserID: "alice", Kind: progression.EntryReward, XPDelta: 10, IdempotencyKey: key}
}

func TestMemory_KV(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	require.ErrorIs(t, err, progression.ErrKeyNotFound)

	buf := []byte("v1")
	require.NoError(t, m.Put(ctx, "k", buf))
	buf[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got), "stored value is a copy")
	assert.Equal(t, 1, m.Keys())

	require.NoError(t, m.Delete(ctx, "k"))
	assert.Equal(t, 0, m.Keys())
}

func TestMemory_FailPuts(t *testing.T) {
	m := NewMemory()
	m.FailPuts = errors.New("read-only")
	assert.Error(t, m.Put(context.Background(), "k", nil))
}

func TestMemory_AppendIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Append(ctx, entry("1", "reward:alice:x")))
	err := m.Append(ctx, entry("2", "reward:alice:x"))
	require.ErrorIs(t, err, progression.ErrDuplicateEntry)

	// Entries without a key never collide.
	require.NoError(t, m.Append(ctx, entry("3", "")))
	require.NoError(t, m.Append(ctx, entry("4", "")))

	ok, err := m.Exists(ctx, "reward:alice:x")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := m.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, "4", entries[2].ID)
}

func TestMemory_AppendBatchAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Append(ctx, entry("1", "a")))

	err := m.AppendBatch(ctx, []progression.JournalEntry{entry("2", "b"), entry("3", "a")})
	require.ErrorIs(t, err, progression.ErrDuplicateEntry)

	err = m.AppendBatch(ctx, []progression.JournalEntry{entry("4", "c"), entry("5", "c")})
	require.ErrorIs(t, err, progression.ErrDuplicateEntry)

	entries, err := m.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, m.AppendBatch(ctx, []progression.JournalEntry{entry("6", "d"), entry("7", "e")}))
	entries, err = m.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: One stored key and one entry
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "k", []byte("before")))
	require.NoError(t, m.Append(ctx, entry("1", "a")))

	// WHEN: A transaction writes and then fails
	err := m.WithTx(ctx, func(tx *Memory) error {
		require.NoError(t, tx.Put(ctx, "k", []byte("after")))
		require.NoError(t, tx.Append(ctx, entry("2", "b")))
		return errors.New("abort")
	})

	// THEN: Nothing it wrote is visible
	require.Error(t, err)
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "before", string(got))
	ok, err := m.Exists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	// AND: A successful transaction commits
	require.NoError(t, m.WithTx(ctx, func(tx *Memory) error {
		return tx.Put(ctx, "k", []byte("after"))
	}))
	got, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "after", string(got))
}
