/*
Package progression provides the core progression and rewards engine.

PURPOSE:
  This package contains the state machine behind challenges (quests), the
  detection of completions, reward issuance, the journey prerequisite graph
  and currency-backed purchases. It knows nothing about screens, transport
  or storage engines; those are reached through the interfaces in
  remote.go, store.go and presenter.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - ChallengeDefinition: Immutable catalog entry authored by the backend
  - ChallengeInstance:   A user's binding to a definition (owned by ChallengeBook)
  - CharacterProgress:   XP, derived level/stage, currency balance, owned items
  - InventoryItem:       Shop reference data
  - Stage:               Enumerated visual tier derived from level

DESIGN PRINCIPLES:
  1. Single owner: instances only change through ChallengeBook transitions
  2. Derivation: level and stage are total functions of TotalXP
  3. Append-only ownership: items are never removed once owned
  4. Closed enums: statuses are parsed, never trusted as free strings

USAGE:
  book := progression.NewChallengeBook()
  inst, err := book.Accept(def, time.Now())

SEE ALSO:
  - rewards.go:   Reward ledger (XP, currency, payouts)
  - challenge.go: Challenge state machine
  - session.go:   Per-user service object wiring everything together
*/
package progression

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type DefinitionID string
type InstanceID string
type NodeID string
type ItemID string

// =============================================================================
// CHALLENGE DEFINITION - Immutable catalog entry
// =============================================================================

type Category string

const (
	CategoryDaily   Category = "daily"
	CategoryWeekly  Category = "weekly"
	CategorySpecial Category = "special"
)

type Objective string

const (
	ObjectiveSteps    Objective = "steps"
	ObjectiveDistance Objective = "distance"
	ObjectiveWorkouts Objective = "workouts"
	ObjectiveMinutes  Objective = "minutes"
	ObjectiveCalories Objective = "calories"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type ChallengeDefinition struct {
	ID           DefinitionID `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description" yaml:"description"`
	Category     Category     `json:"category" yaml:"category"`
	Objective    Objective    `json:"objective" yaml:"objective"`
	Target       int          `json:"target" yaml:"target"`
	Unit         string       `json:"unit" yaml:"unit"`
	RewardPoints int          `json:"reward_points" yaml:"reward_points"`
	Difficulty   Difficulty   `json:"difficulty" yaml:"difficulty"`
	StartsAt     time.Time    `json:"starts_at" yaml:"starts_at"`
	EndsAt       time.Time    `json:"ends_at" yaml:"ends_at"`

	// AutoEnroll definitions skip the accept step; instances are
	// pre-created as ACTIVE.
	AutoEnroll bool `json:"auto_enroll" yaml:"auto_enroll"`
}

// ValidAt reports whether t falls inside the validity window.
// A zero StartsAt or EndsAt leaves that side of the window open.
func (d ChallengeDefinition) ValidAt(t time.Time) bool {
	if !d.StartsAt.IsZero() && t.Before(d.StartsAt) {
		return false
	}
	if !d.EndsAt.IsZero() && !t.Before(d.EndsAt) {
		return false
	}
	return true
}

// Validate checks catalog data before it enters the engine.
func (d ChallengeDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("challenge definition: missing id")
	}
	if d.Target < 0 || d.RewardPoints < 0 {
		return fmt.Errorf("challenge definition %s: target and reward points must be non-negative", d.ID)
	}
	if !d.StartsAt.IsZero() && !d.EndsAt.IsZero() && d.EndsAt.Before(d.StartsAt) {
		return fmt.Errorf("challenge definition %s: window ends before it starts", d.ID)
	}
	switch d.Category {
	case CategoryDaily, CategoryWeekly, CategorySpecial:
	default:
		return fmt.Errorf("challenge definition %s: unknown category %q", d.ID, d.Category)
	}
	return nil
}

// =============================================================================
// CHALLENGE INSTANCE - A user's binding to a definition
// =============================================================================

type ChallengeStatus string

const (
	StatusAvailable ChallengeStatus = "AVAILABLE"
	StatusAccepted  ChallengeStatus = "ACCEPTED"
	StatusActive    ChallengeStatus = "ACTIVE"
	StatusCompleted ChallengeStatus = "COMPLETED"
	StatusExpired   ChallengeStatus = "EXPIRED"
	StatusAbandoned ChallengeStatus = "ABANDONED"
)

// ParseChallengeStatus validates a wire value against the closed set.
func ParseChallengeStatus(s string) (ChallengeStatus, error) {
	switch st := ChallengeStatus(s); st {
	case StatusAvailable, StatusAccepted, StatusActive, StatusCompleted, StatusExpired, StatusAbandoned:
		return st, nil
	}
	return "", fmt.Errorf("unknown challenge status %q", s)
}

func (s ChallengeStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusAbandoned
}

// InProgress is true for ACCEPTED and ACTIVE.
func (s ChallengeStatus) InProgress() bool {
	return s == StatusAccepted || s == StatusActive
}

type ChallengeInstance struct {
	ID           InstanceID      `json:"id"`
	DefinitionID DefinitionID    `json:"definition_id"`
	Status       ChallengeStatus `json:"status"`
	Progress     int             `json:"progress"`

	// Copied from the definition at acceptance time so catalog edits
	// never change a running challenge.
	Target       int        `json:"target"`
	RewardPoints int        `json:"reward_points"`
	Difficulty   Difficulty `json:"difficulty"`

	RewardIssued bool       `json:"reward_issued"`
	AcceptedAt   time.Time  `json:"accepted_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// RewardPending is true between completion and reward issuance.
func (i ChallengeInstance) RewardPending() bool {
	return i.Status == StatusCompleted && !i.RewardIssued
}

// =============================================================================
// CHARACTER PROGRESS
// =============================================================================

type CharacterProgress struct {
	TotalXP    int             `json:"total_xp"`
	Level      int             `json:"level"`
	Stage      Stage           `json:"stage"`
	Balance    int             `json:"balance"`
	OwnedItems map[ItemID]bool `json:"owned_items"`
}

// NewCharacterProgress returns a level 1 character with the given balance.
func NewCharacterProgress(balance int) CharacterProgress {
	p := CharacterProgress{Balance: balance, OwnedItems: map[ItemID]bool{}}
	return DefaultLevelCurve.derive(p)
}

// Clone returns a deep copy. OwnedItems is the only reference field.
func (p CharacterProgress) Clone() CharacterProgress {
	owned := make(map[ItemID]bool, len(p.OwnedItems))
	for k, v := range p.OwnedItems {
		owned[k] = v
	}
	p.OwnedItems = owned
	return p
}

func (p CharacterProgress) Owns(id ItemID) bool {
	return p.OwnedItems[id]
}

// Items returns owned item ids in a stable order.
func (p CharacterProgress) Items() []ItemID {
	items := make([]ItemID, 0, len(p.OwnedItems))
	for id, owned := range p.OwnedItems {
		if owned {
			items = append(items, id)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// Equal compares two progress values including ownership.
func (p CharacterProgress) Equal(o CharacterProgress) bool {
	if p.TotalXP != o.TotalXP || p.Level != o.Level || p.Stage != o.Stage || p.Balance != o.Balance {
		return false
	}
	a, b := p.Items(), o.Items()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// INVENTORY ITEM - Shop reference data
// =============================================================================

type ItemCategory string

const (
	ItemOutfit    ItemCategory = "outfit"
	ItemAccessory ItemCategory = "accessory"
	ItemBooster   ItemCategory = "booster"
	ItemTheme     ItemCategory = "theme"
)

type InventoryItem struct {
	ID          ItemID       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Price       int          `json:"price" yaml:"price"`
	Category    ItemCategory `json:"category" yaml:"category"`
	UnlockLevel int          `json:"unlock_level" yaml:"unlock_level"`
}
