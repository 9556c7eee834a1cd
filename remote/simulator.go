/*
Package remote provides in-process stand-ins for the remote challenge and
economy services.

PURPOSE:
  The engine only talks to progression.ChallengeService and
  progression.EconomyService. Simulator implements both for one user,
  holds the authoritative instance list and balance, and exposes
  RecordActivity as the "real-time" progress feed the engine polls.

FAULT INJECTION:
  Fail(op, err, times) makes the next `times` calls to op return err
  (times <= 0: until cleared). RefuseSpends makes Spend answer
  Success=false, which the engine treats as a stale write. Latency delays
  every call and honours ctx, so a cancelled caller sees ctx.Err().

SERVER-SIDE REWARDS:
  When activity completes an instance, the simulator credits the currency
  half of the payout to its own balance using the same RewardPolicy the
  engine uses, so the engine's local credit and the server balance agree.

SEE ALSO:
  - cache.go: freecache wrapper for ListDaily
*/
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/progression-engine/progression"
)

const (
	OpListDaily  = "list_daily"
	OpListActive = "list_active"
	OpAccept     = "accept"
	OpGetBalance = "get_balance"
	OpSpend      = "spend"
)

// ErrInjected is the default error returned by Fail.
var ErrInjected = errors.New("injected fault")

type fault struct {
	err   error
	times int
}

type Simulator struct {
	// Definitions is called on every ListDaily so windows follow the clock.
	Definitions func(now time.Time) []progression.ChallengeDefinition
	Rewards     progression.RewardPolicy
	Clock       func() time.Time
	Latency     time.Duration
	NewID       func() progression.InstanceID

	mu           sync.Mutex
	instances    map[progression.InstanceID]*progression.ChallengeInstance
	order        []progression.InstanceID
	balance      int
	faults       map[string]*fault
	refuseSpends bool
	calls        map[string]int
}

func NewSimulator(defs func(now time.Time) []progression.ChallengeDefinition, balance int) *Simulator {
	return &Simulator{
		Definitions: defs,
		Rewards:     progression.DefaultRewardPolicy(),
		Clock:       time.Now,
		NewID:       func() progression.InstanceID { return progression.InstanceID(uuid.NewString()) },
		instances:   make(map[progression.InstanceID]*progression.ChallengeInstance),
		balance:     balance,
		faults:      make(map[string]*fault),
		calls:       make(map[string]int),
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

func (s *Simulator) Fail(op string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	s.faults[op] = &fault{err: err, times: times}
}

func (s *Simulator) Clear(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, op)
}

func (s *Simulator) RefuseSpends(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseSpends = refuse
}

// Calls returns how many times op was invoked, faults included.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records the call, waits out latency and returns an injected
// fault if one is armed. It must be called without s.mu held.
func (s *Simulator) enter(ctx context.Context, op string) error {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.faults, op)
		}
	}
	return fmt.Errorf("%s: %w", op, f.err)
}

// =============================================================================
// CHALLENGE SERVICE
// =============================================================================

func (s *Simulator) ListDaily(ctx context.Context) ([]progression.ChallengeDefinition, error) {
	if err := s.enter(ctx, OpListDaily); err != nil {
		return nil, err
	}
	if s.Definitions == nil {
		return nil, nil
	}
	return s.Definitions(s.Clock()), nil
}

// ListActive returns every instance the server knows, auto-enrolling
// definitions valid now first.
func (s *Simulator) ListActive(ctx context.Context) ([]progression.ChallengeInstance, error) {
	if err := s.enter(ctx, OpListActive); err != nil {
		return nil, err
	}

	var defs []progression.ChallengeDefinition
	if s.Definitions != nil {
		defs = s.Definitions(s.Clock())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock()
	for _, d := range defs {
		if d.AutoEnroll && d.ValidAt(now) && !s.hasInstanceLocked(d.ID, now) {
			inst := s.newInstanceLocked(d, now)
			inst.Status = progression.StatusActive
		}
	}
	s.expireLocked(now)

	out := make([]progression.ChallengeInstance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.instances[id])
	}
	return out, nil
}

func (s *Simulator) Accept(ctx context.Context, id progression.DefinitionID) (progression.ChallengeInstance, error) {
	if err := s.enter(ctx, OpAccept); err != nil {
		return progression.ChallengeInstance{}, err
	}

	def, ok := s.definition(id)
	if !ok {
		return progression.ChallengeInstance{}, fmt.Errorf("accept %s: %w", id, progression.ErrUnknownChallenge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock()
	if !def.ValidAt(now) {
		return progression.ChallengeInstance{}, fmt.Errorf("accept %s: %w", id, progression.ErrOutsideWindow)
	}
	if existing := s.inProgressLocked(id); existing != nil {
		return progression.ChallengeInstance{}, &progression.AlreadyActiveError{DefinitionID: id, InstanceID: existing.ID}
	}
	inst := s.newInstanceLocked(def, now)
	inst.Status = progression.StatusAccepted
	return *inst, nil
}

// RecordActivity adds amount to the in-progress instance of def, as a
// fitness tracker sync would. An ACCEPTED instance becomes ACTIVE first.
func (s *Simulator) RecordActivity(def progression.DefinitionID, amount int) (progression.ChallengeInstance, error) {
	if amount < 0 {
		return progression.ChallengeInstance{}, fmt.Errorf("activity for %s: negative amount %d", def, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.inProgressLocked(def)
	if inst == nil {
		return progression.ChallengeInstance{}, fmt.Errorf("activity for %s: %w", def, progression.ErrUnknownInstance)
	}

	now := s.Clock()
	inst.Status = progression.StatusActive
	inst.Progress += amount
	if inst.Progress >= inst.Target {
		inst.Status = progression.StatusCompleted
		inst.CompletedAt = &now
		s.balance += s.Rewards.Payout(inst.RewardPoints, inst.Difficulty).Currency
	}
	return *inst, nil
}

func (s *Simulator) definition(id progression.DefinitionID) (progression.ChallengeDefinition, bool) {
	if s.Definitions == nil {
		return progression.ChallengeDefinition{}, false
	}
	for _, d := range s.Definitions(s.Clock()) {
		if d.ID == id {
			return d, true
		}
	}
	return progression.ChallengeDefinition{}, false
}

func (s *Simulator) inProgressLocked(def progression.DefinitionID) *progression.ChallengeInstance {
	for _, id := range s.order {
		inst := s.instances[id]
		if inst.DefinitionID == def && inst.Status.InProgress() {
			return inst
		}
	}
	return nil
}

// hasInstanceLocked is true when def already has an in-progress instance
// or one that settled inside the window containing now.
func (s *Simulator) hasInstanceLocked(def progression.DefinitionID, now time.Time) bool {
	for _, id := range s.order {
		inst := s.instances[id]
		if inst.DefinitionID != def {
			continue
		}
		if inst.Status.InProgress() {
			return true
		}
		if inst.ExpiresAt == nil || now.Before(*inst.ExpiresAt) {
			return true
		}
	}
	return false
}

func (s *Simulator) expireLocked(now time.Time) {
	for _, id := range s.order {
		inst := s.instances[id]
		if inst.Status.InProgress() && inst.ExpiresAt != nil && !now.Before(*inst.ExpiresAt) {
			inst.Status = progression.StatusExpired
		}
	}
}

func (s *Simulator) newInstanceLocked(def progression.ChallengeDefinition, now time.Time) *progression.ChallengeInstance {
	inst := &progression.ChallengeInstance{
		ID:           s.NewID(),
		DefinitionID: def.ID,
		Target:       def.Target,
		RewardPoints: def.RewardPoints,
		Difficulty:   def.Difficulty,
		AcceptedAt:   now,
	}
	if !def.EndsAt.IsZero() {
		t := def.EndsAt
		inst.ExpiresAt = &t
	}
	s.instances[inst.ID] = inst
	s.order = append(s.order, inst.ID)
	return inst
}

// =============================================================================
// ECONOMY SERVICE
// =============================================================================

func (s *Simulator) GetBalance(ctx context.Context) (int, error) {
	if err := s.enter(ctx, OpGetBalance); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Simulator) Spend(ctx context.Context, amount int, _ string) (progression.SpendResult, error) {
	if err := s.enter(ctx, OpSpend); err != nil {
		return progression.SpendResult{}, err
	}
	if amount < 0 {
		return progression.SpendResult{}, fmt.Errorf("spend: negative amount %d", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuseSpends || amount > s.balance {
		return progression.SpendResult{Success: false, NewBalance: s.balance}, nil
	}
	s.balance -= amount
	return progression.SpendResult{Success: true, NewBalance: s.balance}, nil
}

// SetBalance overwrites the server balance, as another device would.
func (s *Simulator) SetBalance(balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
}

// Instances returns the server's view, in creation order.
func (s *Simulator) Instances() []progression.ChallengeInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progression.ChallengeInstance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.instances[id])
	}
	return out
}
