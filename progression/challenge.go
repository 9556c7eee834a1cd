/*
challenge.go - Challenge instance lifecycle

PURPOSE:
  ChallengeBook owns every ChallengeInstance of one user. All status
  changes go through transition(), which consults a fixed table, so no
  other code path can move an instance between states.

STATE MACHINE:
  ┌───────────┐ accept ┌──────────┐ implicit ┌────────┐ progress >= target ┌───────────┐
  │ AVAILABLE │──────▶ │ ACCEPTED │────────▶ │ ACTIVE │──────────────────▶ │ COMPLETED │
  └───────────┘        └──────────┘          └────────┘                    └───────────┘
                            │  abandon / window   │
                            └──────────┬──────────┘
                                       ▼
                          ┌───────────┐  ┌─────────┐
                          │ ABANDONED │  │ EXPIRED │
                          └───────────┘  └─────────┘

  COMPLETED, ABANDONED and EXPIRED are terminal.

REWARDS:
  Completing an instance only marks it reward-pending. Issuance is driven
  by the completion detector (detector.go) and the session (session.go).

SEE ALSO:
  - detector.go: Fires completion events from book snapshots
  - journey.go:  Derives node status from instance status
*/
package progression

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

var transitions = map[ChallengeStatus][]ChallengeStatus{
	StatusAvailable: {StatusAccepted},
	StatusAccepted:  {StatusActive, StatusAbandoned, StatusExpired},
	StatusActive:    {StatusCompleted, StatusAbandoned, StatusExpired},
}

func canTransition(from, to ChallengeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// CHALLENGE BOOK
// =============================================================================

type ChallengeBook struct {
	instances map[InstanceID]*ChallengeInstance
	order     []InstanceID

	// NewID generates instance ids; replaced in tests.
	NewID func() InstanceID
}

func NewChallengeBook() *ChallengeBook {
	return &ChallengeBook{
		instances: make(map[InstanceID]*ChallengeInstance),
		NewID:     func() InstanceID { return InstanceID(uuid.NewString()) },
	}
}

func (b *ChallengeBook) transition(inst *ChallengeInstance, to ChallengeStatus, now time.Time) error {
	if !canTransition(inst.Status, to) {
		return &TransitionError{InstanceID: inst.ID, From: inst.Status, To: to}
	}
	inst.Status = to
	if to == StatusCompleted {
		t := now
		inst.CompletedAt = &t
	}
	return nil
}

func (b *ChallengeBook) put(inst *ChallengeInstance) {
	if _, ok := b.instances[inst.ID]; !ok {
		b.order = append(b.order, inst.ID)
	}
	b.instances[inst.ID] = inst
}

// Get returns a copy of the instance.
func (b *ChallengeBook) Get(id InstanceID) (ChallengeInstance, bool) {
	inst, ok := b.instances[id]
	if !ok {
		return ChallengeInstance{}, false
	}
	return *inst, true
}

// InProgressFor returns the ACCEPTED/ACTIVE instance for a definition.
func (b *ChallengeBook) InProgressFor(def DefinitionID) (ChallengeInstance, bool) {
	for _, id := range b.order {
		inst := b.instances[id]
		if inst.DefinitionID == def && inst.Status.InProgress() {
			return *inst, true
		}
	}
	return ChallengeInstance{}, false
}

// Snapshot returns copies of all instances in insertion order.
func (b *ChallengeBook) Snapshot() []ChallengeInstance {
	out := make([]ChallengeInstance, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.instances[id])
	}
	return out
}

// Restore replaces the book contents; used when loading persisted state.
func (b *ChallengeBook) Restore(instances []ChallengeInstance) {
	b.instances = make(map[InstanceID]*ChallengeInstance, len(instances))
	b.order = b.order[:0]
	for i := range instances {
		inst := instances[i]
		b.put(&inst)
	}
}

// Remove drops an instance. Only the optimistic coordinator uses this,
// to undo a local accept that the remote refused.
func (b *ChallengeBook) Remove(id InstanceID) {
	if _, ok := b.instances[id]; !ok {
		return
	}
	delete(b.instances, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Accept binds the user to def. The instance passes through ACCEPTED and
// lands in ACTIVE with progress 0.
func (b *ChallengeBook) Accept(def ChallengeDefinition, now time.Time) (ChallengeInstance, error) {
	inst, err := b.Prepare(def, now)
	if err != nil {
		return ChallengeInstance{}, err
	}
	b.put(&inst)
	return inst, nil
}

// Prepare validates an accept and builds the ACTIVE instance without
// storing it. The session stores it through an optimistic cell.
func (b *ChallengeBook) Prepare(def ChallengeDefinition, now time.Time) (ChallengeInstance, error) {
	if existing, ok := b.InProgressFor(def.ID); ok {
		return ChallengeInstance{}, &AlreadyActiveError{DefinitionID: def.ID, InstanceID: existing.ID}
	}
	if !def.ValidAt(now) {
		return ChallengeInstance{}, fmt.Errorf("accept %s: %w", def.ID, ErrOutsideWindow)
	}

	inst := newInstance(b.NewID(), def, now)
	if err := b.transition(inst, StatusAccepted, now); err != nil {
		return ChallengeInstance{}, err
	}
	if err := b.transition(inst, StatusActive, now); err != nil {
		return ChallengeInstance{}, err
	}
	return *inst, nil
}

// Put stores inst, replacing an instance with the same id.
func (b *ChallengeBook) Put(inst ChallengeInstance) {
	b.put(&inst)
}

// Enroll pre-creates ACTIVE instances for auto-enroll definitions that
// are valid now and have no in-progress instance. Returns the new ones.
func (b *ChallengeBook) Enroll(defs []ChallengeDefinition, now time.Time) []ChallengeInstance {
	var created []ChallengeInstance
	for _, def := range defs {
		if !def.AutoEnroll || !def.ValidAt(now) {
			continue
		}
		if _, ok := b.InProgressFor(def.ID); ok {
			continue
		}
		if b.hasSettled(def.ID, now) {
			continue
		}
		inst := newInstance(b.NewID(), def, now)
		inst.Status = StatusActive
		b.put(inst)
		created = append(created, *inst)
	}
	return created
}

// hasSettled is true when the definition already has a terminal instance
// whose window still contains now; auto-enroll must not re-create it. An
// instance without a window settles its definition for good.
func (b *ChallengeBook) hasSettled(def DefinitionID, now time.Time) bool {
	for _, id := range b.order {
		inst := b.instances[id]
		if inst.DefinitionID != def || !inst.Status.IsTerminal() {
			continue
		}
		if inst.ExpiresAt == nil || now.Before(*inst.ExpiresAt) {
			return true
		}
	}
	return false
}

// RecordProgress sets the instance progress. Progress is monotonic: a
// smaller value is a caller error and leaves state unchanged.
//
// A reading that arrives after the window closed expires the instance
// instead and returns ErrOutsideWindow; the returned copy is EXPIRED.
func (b *ChallengeBook) RecordProgress(id InstanceID, value int, now time.Time) (ChallengeInstance, error) {
	inst, ok := b.instances[id]
	if !ok {
		return ChallengeInstance{}, fmt.Errorf("record progress %s: %w", id, ErrUnknownInstance)
	}
	if inst.Status.InProgress() && inst.ExpiresAt != nil && !now.Before(*inst.ExpiresAt) {
		if err := b.transition(inst, StatusExpired, now); err != nil {
			return *inst, err
		}
		return *inst, fmt.Errorf("record progress %s: %w", id, ErrOutsideWindow)
	}
	if value < inst.Progress {
		return *inst, &ProgressRegressionError{InstanceID: id, Current: inst.Progress, Attempted: value}
	}
	if inst.Status != StatusActive {
		return *inst, &TransitionError{InstanceID: id, From: inst.Status, To: StatusActive}
	}

	inst.Progress = value
	if inst.Progress >= inst.Target {
		if err := b.transition(inst, StatusCompleted, now); err != nil {
			return *inst, err
		}
	}
	return *inst, nil
}

// Abandon is legal from ACCEPTED and ACTIVE. Progress is kept for audit.
func (b *ChallengeBook) Abandon(id InstanceID) (ChallengeInstance, error) {
	inst, ok := b.instances[id]
	if !ok {
		return ChallengeInstance{}, fmt.Errorf("abandon %s: %w", id, ErrUnknownInstance)
	}
	if err := b.transition(inst, StatusAbandoned, time.Time{}); err != nil {
		return *inst, err
	}
	return *inst, nil
}

// ExpireDue moves in-progress instances whose window has elapsed to EXPIRED.
func (b *ChallengeBook) ExpireDue(now time.Time) []ChallengeInstance {
	var expired []ChallengeInstance
	for _, id := range b.order {
		inst := b.instances[id]
		if !inst.Status.InProgress() || inst.ExpiresAt == nil || now.Before(*inst.ExpiresAt) {
			continue
		}
		if err := b.transition(inst, StatusExpired, now); err == nil {
			expired = append(expired, *inst)
		}
	}
	return expired
}

// MarkRewardIssued flips RewardIssued false→true. Returns false if the
// instance is unknown, not completed, or already rewarded.
func (b *ChallengeBook) MarkRewardIssued(id InstanceID) bool {
	inst, ok := b.instances[id]
	if !ok || inst.Status != StatusCompleted || inst.RewardIssued {
		return false
	}
	inst.RewardIssued = true
	return true
}

// Merge reconciles an authoritative remote snapshot into the book.
//
// Rules:
//   - unknown remote instances are added as-is
//   - progress never decreases (max of local and remote)
//   - a terminal local status is never reverted
//   - RewardIssued is sticky once true on either side
//   - local instances absent from the remote list are kept
func (b *ChallengeBook) Merge(remote []ChallengeInstance, now time.Time) {
	for i := range remote {
		r := remote[i]
		local, ok := b.instances[r.ID]
		if !ok {
			inst := r
			if inst.Progress < 0 {
				inst.Progress = 0
			}
			b.put(&inst)
			continue
		}
		if local.Status.IsTerminal() {
			local.RewardIssued = local.RewardIssued || r.RewardIssued
			continue
		}
		if r.Progress > local.Progress {
			local.Progress = r.Progress
		}
		local.RewardIssued = local.RewardIssued || r.RewardIssued
		if r.ExpiresAt != nil {
			t := *r.ExpiresAt
			local.ExpiresAt = &t
		}

		switch {
		case r.Status == StatusCompleted || (local.Status == StatusActive && local.Progress >= local.Target):
			if local.Status == StatusAccepted {
				local.Status = StatusActive
			}
			if err := b.transition(local, StatusCompleted, now); err == nil && r.CompletedAt != nil {
				t := *r.CompletedAt
				local.CompletedAt = &t
			}
		case r.Status.IsTerminal():
			_ = b.transition(local, r.Status, now)
		case r.Status == StatusActive && local.Status == StatusAccepted:
			_ = b.transition(local, StatusActive, now)
		}
	}
}

// ByDefinition indexes the most relevant instance per definition: an
// in-progress or completed instance wins over abandoned/expired ones.
func (b *ChallengeBook) ByDefinition() map[DefinitionID]ChallengeInstance {
	out := make(map[DefinitionID]ChallengeInstance)
	for _, id := range b.order {
		inst := *b.instances[id]
		prev, ok := out[inst.DefinitionID]
		if !ok || rank(inst.Status) >= rank(prev.Status) {
			out[inst.DefinitionID] = inst
		}
	}
	return out
}

func rank(s ChallengeStatus) int {
	switch s {
	case StatusCompleted:
		return 3
	case StatusAccepted, StatusActive:
		return 2
	case StatusAvailable:
		return 1
	}
	return 0
}

func newInstance(id InstanceID, def ChallengeDefinition, now time.Time) *ChallengeInstance {
	inst := &ChallengeInstance{
		ID:           id,
		DefinitionID: def.ID,
		Status:       StatusAvailable,
		Target:       def.Target,
		RewardPoints: def.RewardPoints,
		Difficulty:   def.Difficulty,
		AcceptedAt:   now,
	}
	if !def.EndsAt.IsZero() {
		t := def.EndsAt
		inst.ExpiresAt = &t
	}
	return inst
}
