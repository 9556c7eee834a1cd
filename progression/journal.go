/*
journal.go - Append-only record of balance and XP changes

PURPOSE:
  Every reward credit and purchase debit is written here with an
  idempotency key. The journal is the persistent half of the exactly-once
  reward guard: RewardIssued on the instance is the in-memory half.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete
  2. IDEMPOTENT: Same idempotency key = same entry (second Append fails)
  3. AUDITABLE: Each entry names the instance or item it came from

IDEMPOTENCY KEYS:
  reward:<user>:<instanceID>   XP + currency credit for a completed challenge
  purchase:<user>:<itemID>     Currency debit for an owned item

SEE ALSO:
  - store/memory/memory.go: In-memory journal
  - store/sqlite/sqlite.go: Persistent journal
*/
package progression

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateEntry is returned when an idempotency key already exists.
var ErrDuplicateEntry = errors.New("duplicate journal entry")

type EntryKind string

const (
	EntryReward   EntryKind = "reward"
	EntryPurchase EntryKind = "purchase"
	EntrySync     EntryKind = "balance_sync"
)

type JournalEntry struct {
	ID             string    `json:"id"`
	UserID         UserID    `json:"user_id"`
	Kind           EntryKind `json:"kind"`
	XPDelta        int       `json:"xp_delta"`
	CurrencyDelta  int       `json:"currency_delta"`
	ReferenceID    string    `json:"reference_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Journal is append-only. Corrections are new entries.
type Journal interface {
	// Append fails with ErrDuplicateEntry if the idempotency key exists.
	Append(ctx context.Context, e JournalEntry) error

	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// Entries returns a user's entries in append order.
	Entries(ctx context.Context, user UserID) ([]JournalEntry, error)
}

func RewardKey(user UserID, id InstanceID) string {
	return "reward:" + string(user) + ":" + string(id)
}

func PurchaseKey(user UserID, id ItemID) string {
	return "purchase:" + string(user) + ":" + string(id)
}

// Totals sums the deltas of a user's journal.
func Totals(entries []JournalEntry) (xp, currency int) {
	for _, e := range entries {
		xp += e.XPDelta
		currency += e.CurrencyDelta
	}
	return xp, currency
}
