package progression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapKV map[string][]byte

func (m mapKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m mapKV) Put(_ context.Context, key string, value []byte) error {
	m[key] = value
	return nil
}

func (m mapKV) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func TestNamespace_Key(t *testing.T) {
	assert.Equal(t, "user:alice:state", Namespace("alice").Key(keyState))
	assert.NotEqual(t, Namespace("a").Key(keyState), Namespace("b").Key(keyState))
}

func TestPersistedState_RoundTrip(t *testing.T) {
	// GIVEN: A state with one instance, an owned item and a queued event
	ctx := context.Background()
	kv := mapKV{}
	p := NewCharacterProgress(40)
	p.OwnedItems["cap"] = true
	st := persistedState{
		Instances: []ChallengeInstance{active("x", 3, 10)},
		Progress:  p,
		Detector:  DetectorState{Completed: []InstanceID{"y"}},
		Events:    []CompletionEvent{{InstanceID: "y"}},
	}

	// WHEN
	require.NoError(t, savePersisted(ctx, kv, "alice", st))
	got, found, err := loadPersisted(ctx, kv, "alice")

	// THEN
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, p.Equal(got.Progress))
	assert.Equal(t, st.Instances, got.Instances)
	assert.Equal(t, st.Events, got.Events)
	assert.Len(t, kv, 1, "one document per user")

	_, found, err = loadPersisted(ctx, kv, "bob")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadPersisted_CorruptValue(t *testing.T) {
	kv := mapKV{Namespace("alice").Key(keyState): []byte("{not json")}
	_, _, err := loadPersisted(context.Background(), kv, "alice")
	assert.Error(t, err)
}

func TestSavePersisted_FailedPutLeavesPreviousState(t *testing.T) {
	// GIVEN: A stored state with a pending reward
	ctx := context.Background()
	kv := &countingKV{mapKV: mapKV{}, allow: 1}
	before := persistedState{Progress: NewCharacterProgress(0)}
	require.NoError(t, savePersisted(ctx, kv, "alice", before))

	// WHEN: The next write fails
	after := persistedState{Progress: NewCharacterProgress(50)}
	require.Error(t, savePersisted(ctx, kv, "alice", after))

	// THEN: The reader still sees the whole previous state
	got, found, err := loadPersisted(ctx, kv, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, got.Progress.Balance)
}

// countingKV accepts the first allow puts and fails the rest.
type countingKV struct {
	mapKV
	allow int
}

func (c *countingKV) Put(ctx context.Context, key string, value []byte) error {
	if c.allow <= 0 {
		return errors.New("disk full")
	}
	c.allow--
	return c.mapKV.Put(ctx, key, value)
}
