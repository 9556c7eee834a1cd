/*
store.go - Local persistent key-value contract

PURPOSE:
  The engine caches its last known state across process restarts through
  a plain key-value store. It is read at startup and written after every
  confirmed mutation. Keys are namespaced by user identity.

KEYS:
  user:<id>:state   persistedState as one JSON document

  Instances, progress, detector and event queue are written in a single
  Put, so a reader never sees an instance marked rewarded next to a
  progress value that does not contain the reward.

IMPLEMENTATIONS:
  - store/memory/memory.go: In-memory (tests, dev)
  - store/sqlite/sqlite.go: SQLite
  - store/redis/redis.go:   Redis
*/
package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type KVStore interface {
	// Get returns ErrKeyNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const keyState = "state"

// Namespace builds user-scoped keys.
type Namespace UserID

func (n Namespace) Key(name string) string {
	return fmt.Sprintf("user:%s:%s", string(n), name)
}

// persistedState is everything a session writes after a confirmed mutation.
type persistedState struct {
	Instances []ChallengeInstance `json:"instances"`
	Progress  CharacterProgress   `json:"progress"`
	Detector  DetectorState       `json:"detector"`
	Events    []CompletionEvent   `json:"events"`
}

func putJSON(ctx context.Context, kv KVStore, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Put(ctx, key, b); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// getJSON decodes key into v. found is false when the key is missing.
func getJSON(ctx context.Context, kv KVStore, key string, v any) (found bool, err error) {
	b, err := kv.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func savePersisted(ctx context.Context, kv KVStore, ns Namespace, st persistedState) error {
	return putJSON(ctx, kv, ns.Key(keyState), st)
}

func loadPersisted(ctx context.Context, kv KVStore, ns Namespace) (persistedState, bool, error) {
	var st persistedState
	found, err := getJSON(ctx, kv, ns.Key(keyState), &st)
	if err != nil || !found {
		return persistedState{}, false, err
	}
	if st.Progress.OwnedItems == nil {
		st.Progress.OwnedItems = map[ItemID]bool{}
	}
	return st, true, nil
}
