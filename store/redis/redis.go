// Package redis implements progression.KVStore and progression.Journal on
// Redis, for deployments where several engine processes share users.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/warp/progression-engine/progression"
)

const (
	DefaultPrefix     = "progression||"
	journalIdemPrefix = "journal-idem||"
	journalListPrefix = "journal||"
)

type Store struct {
	client *redis.Client
	prefix string
	// TTL applies to session state keys only. Zero keeps them forever.
	TTL time.Duration
}

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.Get(ctx, s.prefix+key)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, progression.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return []byte(cmd.Val()), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, string(value), s.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Append claims the idempotency key with SETNX before pushing the entry, so
// two processes crediting the same reward cannot both succeed.
func (s *Store) Append(ctx context.Context, e progression.JournalEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	if e.IdempotencyKey != "" {
		cmd := s.client.SetNX(ctx, s.prefix+journalIdemPrefix+e.IdempotencyKey, e.ID, 0)
		if err := cmd.Err(); err != nil {
			return fmt.Errorf("redis setnx: %w", err)
		}
		if !cmd.Val() {
			return progression.ErrDuplicateEntry
		}
	}

	if err := s.client.RPush(ctx, s.prefix+journalListPrefix+string(e.UserID), string(b)).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	cmd := s.client.Exists(ctx, s.prefix+journalIdemPrefix+idempotencyKey)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	return cmd.Val() > 0, nil
}

func (s *Store) Entries(ctx context.Context, user progression.UserID) ([]progression.JournalEntry, error) {
	cmd := s.client.LRange(ctx, s.prefix+journalListPrefix+string(user), 0, -1)
	if err := cmd.Err(); err != nil {
		return nil, err
	}

	entries := make([]progression.JournalEntry, 0, len(cmd.Val()))
	for _, raw := range cmd.Val() {
		var e progression.JournalEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
