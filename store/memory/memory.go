// Package memory provides in-process KVStore and Journal implementations.
package memory

import (
	"context"
	"sync"

	"github.com/warp/progression-engine/progression"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	values      map[string][]byte
	entries     map[progression.UserID][]progression.JournalEntry
	idempotency map[string]bool

	// FailPuts makes every Put fail with this error; used by tests.
	FailPuts error
}

func NewMemory() *Memory {
	return &Memory{
		values:      make(map[string][]byte),
		entries:     make(map[progression.UserID][]progression.JournalEntry),
		idempotency: make(map[string]bool),
	}
}

// =============================================================================
// KEY-VALUE
// =============================================================================

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, progression.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts != nil {
		return m.FailPuts
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the number of stored keys.
func (m *Memory) Keys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// =============================================================================
// JOURNAL
// =============================================================================

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e progression.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return progression.ErrDuplicateEntry
	}
	m.appendLocked(e)
	return nil
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, entries []progression.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return progression.ErrDuplicateEntry
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		m.appendLocked(e)
	}
	return nil
}

func (m *Memory) appendLocked(e progression.JournalEntry) {
	m.entries[e.UserID] = append(m.entries[e.UserID], e)
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) Entries(_ context.Context, user progression.UserID) ([]progression.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]progression.JournalEntry, len(m.entries[user]))
	copy(result, m.entries[user])
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx runs fn against the store and restores the prior contents if fn
// fails. Writers outside fn are blocked for its duration.
func (m *Memory) WithTx(_ context.Context, fn func(tx *Memory) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()

	view := &Memory{
		values:      snap.values,
		entries:     snap.entries,
		idempotency: snap.idempotency,
		FailPuts:    m.FailPuts,
	}
	if err := fn(view); err != nil {
		return err
	}
	m.values = view.values
	m.entries = view.entries
	m.idempotency = view.idempotency
	return nil
}

type memorySnapshot struct {
	values      map[string][]byte
	entries     map[progression.UserID][]progression.JournalEntry
	idempotency map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		values:      make(map[string][]byte, len(m.values)),
		entries:     make(map[progression.UserID][]progression.JournalEntry, len(m.entries)),
		idempotency: make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.values {
		s.values[k] = append([]byte(nil), v...)
	}
	for k, v := range m.entries {
		s.entries[k] = append([]progression.JournalEntry(nil), v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}
