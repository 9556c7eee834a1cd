/*
session.go - One user's progression engine

PURPOSE:
  Session wires the challenge book, completion detector, event queue,
  journey graph, shop and reward ledger to the remote services and the
  local store. Every public operation is safe to call concurrently.

LOCKING:
  Two layers, always taken in this order:
    1. Coordinator entity locks ("character", "challenge:<id>"), held for
       the whole optimistic mutation including the remote call
    2. Session mutex, held only while reading or writing local state,
       never across a remote call

  Reward issuance takes the "character" entity lock too, so a purchase
  rollback can never revert a reward credited while the spend was in
  flight.

REFRESH:
  ListActive + ListDaily → Merge → Enroll → ExpireDue → Observe →
  queue events → issue rewards → recompute journey → persist → notify.
  Concurrent Refresh calls are coalesced into one remote round-trip.

SEE ALSO:
  - optimistic.go: Coordinator and Run
  - poller.go:     Periodic refresh
*/
package progression

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/warp/progression-engine/metrics"
)

const entityCharacter = "character"

func challengeEntity(id DefinitionID) string { return "challenge:" + string(id) }

// SessionConfig configures a Session. Challenges, Economy, Store, Journal
// and Shop are required.
type SessionConfig struct {
	User       UserID
	Challenges ChallengeService
	Economy    EconomyService
	Store      KVStore
	Journal    Journal
	Shop       *Shop
	Journey    []NodeDefinition

	Presenter Presenter
	Logger    *logrus.Entry
	Metrics   *metrics.Manager
	Clock     func() time.Time

	Curve           LevelCurve
	Rewards         RewardPolicy
	StartingBalance int
}

type Session struct {
	user       UserID
	ns         Namespace
	challenges ChallengeService
	economy    EconomyService
	kv         KVStore
	journal    Journal
	shop       *Shop
	presenter  Presenter
	logger     *logrus.Entry
	metrics    *metrics.Manager
	clock      func() time.Time
	curve      LevelCurve
	rewards    RewardPolicy
	coord      *Coordinator
	refreshes  singleflight.Group

	mu          sync.Mutex
	book        *ChallengeBook
	detector    *CompletionDetector
	queue       EventQueue
	journey     *Journey
	progress    CharacterProgress
	definitions map[DefinitionID]ChallengeDefinition
	pending     notifications
}

// notifications collected under the mutex and delivered after it is released.
type notifications struct {
	events   []CompletionEvent
	graph    []JourneyNode
	declined []InventoryItem
}

func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.User == "":
		return nil, errors.New("session: user is required")
	case cfg.Challenges == nil:
		return nil, errors.New("session: challenge service is required")
	case cfg.Economy == nil:
		return nil, errors.New("session: economy service is required")
	case cfg.Store == nil:
		return nil, errors.New("session: store is required")
	case cfg.Journal == nil:
		return nil, errors.New("session: journal is required")
	case cfg.Shop == nil:
		return nil, errors.New("session: shop is required")
	}

	journey, err := NewJourney(cfg.Journey)
	if err != nil {
		return nil, err
	}

	if cfg.Presenter == nil {
		cfg.Presenter = NopPresenter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewTestManager()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Curve.XPPerLevel <= 0 {
		cfg.Curve = DefaultLevelCurve
	}
	if len(cfg.Rewards.XPMultiplier) == 0 {
		cfg.Rewards = DefaultRewardPolicy()
	}

	logger := cfg.Logger.WithField("user", cfg.User)
	s := &Session{
		user:        cfg.User,
		ns:          Namespace(cfg.User),
		challenges:  cfg.Challenges,
		economy:     cfg.Economy,
		kv:          cfg.Store,
		journal:     cfg.Journal,
		shop:        cfg.Shop,
		presenter:   cfg.Presenter,
		logger:      logger,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		curve:       cfg.Curve,
		rewards:     cfg.Rewards,
		coord:       NewCoordinator(logger),
		book:        NewChallengeBook(),
		detector:    NewCompletionDetector(),
		journey:     journey,
		progress:    cfg.Curve.Derive(NewCharacterProgress(cfg.StartingBalance)),
		definitions: make(map[DefinitionID]ChallengeDefinition),
	}
	s.journey.RecomputeStatuses(nil)
	s.coord.OnRollback = func(entity string, _ error) {
		s.metrics.CounterRollbacks.WithLabelValues(entityKind(entity)).Inc()
	}
	return s, nil
}

func entityKind(entity string) string {
	if entity == entityCharacter {
		return entityCharacter
	}
	return "challenge"
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Load restores the last persisted state. A user with nothing stored
// starts from a fresh character. Rewards for events that were queued but
// not yet credited when the state was written are issued here.
func (s *Session) Load(ctx context.Context) error {
	st, found, err := loadPersisted(ctx, s.kv, s.ns)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	s.mu.Lock()
	if found {
		s.book.Restore(st.Instances)
		s.detector.Restore(st.Detector)
		s.progress = s.curve.Derive(st.Progress)
		s.queue = EventQueue{}
		s.queue.Push(st.Events...)
		if ev, ok := s.queue.Current(); ok {
			s.pending.events = append(s.pending.events, ev)
		}
	}
	s.recomputeJourney()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"found":     found,
		"instances": len(st.Instances),
		"queued":    len(st.Events),
	}).Info("session loaded")

	err = s.issueRewards(ctx)
	s.flush()
	return err
}

// =============================================================================
// REFRESH
// =============================================================================

// Refresh pulls the authoritative challenge state and reconciles it. A
// ListDaily failure is tolerated when ListActive succeeds; the previous
// definition set stays in place and the error is still returned.
func (s *Session) Refresh(ctx context.Context) error {
	_, err, _ := s.refreshes.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Session) refresh(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.HistRefreshDuration.Observe(time.Since(start).Seconds()) }()

	active, errActive := s.challenges.ListActive(ctx)
	defs, errDefs := s.challenges.ListDaily(ctx)
	if errActive != nil {
		s.metrics.CounterRefreshErrors.Inc()
		return multierr.Combine(
			remoteError("list active", errActive),
			wrapOptional("list daily", errDefs),
		)
	}

	s.mu.Lock()
	now := s.clock()
	if errDefs == nil {
		s.setDefinitions(defs)
	}
	s.book.Merge(active, now)
	enrolled := s.book.Enroll(s.definitionList(), now)
	expired := s.book.ExpireDue(now)
	detected := s.observe()
	s.recomputeJourney()
	persistErr := s.persist(ctx)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"remote":   len(active),
		"enrolled": len(enrolled),
		"expired":  len(expired),
		"detected": detected,
	}).Debug("refresh applied")

	err := multierr.Combine(
		wrapOptional("list daily", errDefs),
		persistErr,
		s.issueRewards(ctx),
	)
	if errDefs != nil {
		s.metrics.CounterRefreshErrors.Inc()
	}
	s.flush()
	return err
}

func wrapOptional(op string, err error) error {
	if err == nil {
		return nil
	}
	return remoteError(op, err)
}

func (s *Session) setDefinitions(defs []ChallengeDefinition) {
	next := make(map[DefinitionID]ChallengeDefinition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			s.logger.WithError(err).WithField("definition", d.ID).Warn("skipping invalid definition")
			continue
		}
		next[d.ID] = d
	}
	s.definitions = next
}

func (s *Session) definitionList() []ChallengeDefinition {
	out := make([]ChallengeDefinition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// observe feeds the current book to the detector and queues what it
// finds. Caller holds s.mu.
func (s *Session) observe() int {
	events := s.detector.Observe(s.book.Snapshot())
	if len(events) == 0 {
		return 0
	}
	s.metrics.CounterCompletions.Add(float64(len(events)))
	if s.queue.Push(events...) {
		ev, _ := s.queue.Current()
		s.pending.events = append(s.pending.events, ev)
	}
	return len(events)
}

// recomputeJourney records a graph notification when any node changed.
// Caller holds s.mu.
func (s *Session) recomputeJourney() {
	nodes, changed := s.journey.RecomputeStatuses(s.book.ByDefinition())
	if changed {
		s.pending.graph = nodes
	}
}

// persist writes the full state. Caller holds s.mu.
func (s *Session) persist(ctx context.Context) error {
	err := savePersisted(ctx, s.kv, s.ns, persistedState{
		Instances: s.book.Snapshot(),
		Progress:  s.progress.Clone(),
		Detector:  s.detector.State(),
		Events:    s.queue.Pending(),
	})
	if err != nil {
		s.logger.WithError(err).Error("failed to persist state")
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// =============================================================================
// REWARDS
// =============================================================================

// issueRewards credits every queued event whose instance is still
// reward-pending. It is safe to call repeatedly: the instance flag and the
// journal idempotency key together make each credit exactly-once.
func (s *Session) issueRewards(ctx context.Context) error {
	s.mu.Lock()
	due := s.dueRewards()
	s.mu.Unlock()
	if len(due) == 0 {
		return nil
	}

	release, err := s.coord.Acquire(ctx, entityCharacter)
	if err != nil {
		return fmt.Errorf("issue rewards: %w", err)
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for _, id := range s.dueRewards() {
		errs = multierr.Append(errs, s.issueReward(ctx, id))
	}
	return multierr.Append(errs, s.persist(ctx))
}

// Caller holds s.mu.
func (s *Session) dueRewards() []InstanceID {
	var ids []InstanceID
	for _, ev := range s.queue.Pending() {
		if inst, ok := s.book.Get(ev.InstanceID); ok && inst.RewardPending() {
			ids = append(ids, ev.InstanceID)
		}
	}
	return ids
}

// Caller holds s.mu and the character entity lock.
func (s *Session) issueReward(ctx context.Context, id InstanceID) error {
	inst, ok := s.book.Get(id)
	if !ok || !inst.RewardPending() {
		s.metrics.CounterRewardsSkipped.Inc()
		return nil
	}

	key := RewardKey(s.user, id)
	exists, err := s.journal.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("reward %s: %w", id, err)
	}
	if exists {
		return s.restoreJournaledReward(ctx, id, key)
	}

	payout := s.rewards.Payout(inst.RewardPoints, inst.Difficulty)
	res, err := s.curve.Credit(s.progress, payout)
	if err != nil {
		return fmt.Errorf("reward %s: %w", id, err)
	}

	err = s.journal.Append(ctx, JournalEntry{
		ID:             uuid.NewString(),
		UserID:         s.user,
		Kind:           EntryReward,
		XPDelta:        payout.XP,
		CurrencyDelta:  payout.Currency,
		ReferenceID:    string(id),
		IdempotencyKey: key,
		CreatedAt:      s.clock(),
	})
	if errors.Is(err, ErrDuplicateEntry) {
		return s.restoreJournaledReward(ctx, id, key)
	}
	if err != nil {
		return fmt.Errorf("reward %s: %w", id, err)
	}

	s.progress = res.Progress
	s.book.MarkRewardIssued(id)
	s.metrics.CounterRewardsIssued.Inc()

	fields := logrus.Fields{
		"instance":   id,
		"xp":         payout.XP,
		"currency":   payout.Currency,
		"char_level": res.Progress.Level,
	}
	if res.StageChanged {
		fields["stage"] = res.Progress.Stage.String()
	}
	entry := s.logger.WithFields(fields)
	if res.LeveledUp {
		entry.Info("reward issued, level up")
	} else {
		entry.Info("reward issued")
	}
	return nil
}

// restoreJournaledReward handles a credit the journal already holds while
// the instance is still reward-pending. The flag and the progress are
// persisted in one document, so a pending flag means the journaled deltas
// never reached the stored progress: they are applied from the entry.
// Caller holds s.mu and the character entity lock.
func (s *Session) restoreJournaledReward(ctx context.Context, id InstanceID, key string) error {
	entries, err := s.journal.Entries(ctx, s.user)
	if err != nil {
		return fmt.Errorf("reward %s: %w", id, err)
	}
	var entry *JournalEntry
	for i := range entries {
		if entries[i].IdempotencyKey == key {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("reward %s: journal key %s not listed: %w", id, key, ErrUnknownInstance)
	}

	res, err := s.curve.Credit(s.progress, Payout{XP: entry.XPDelta, Currency: entry.CurrencyDelta})
	if err != nil {
		return fmt.Errorf("reward %s: %w", id, err)
	}
	s.progress = res.Progress
	s.book.MarkRewardIssued(id)
	s.metrics.CounterRewardsRestored.Inc()

	s.logger.WithFields(logrus.Fields{
		"instance":   id,
		"xp":         entry.XPDelta,
		"currency":   entry.CurrencyDelta,
		"char_level": res.Progress.Level,
	}).Warn("reward restored from journal")
	return nil
}

// =============================================================================
// CHALLENGE OPERATIONS
// =============================================================================

// AcceptChallenge accepts a definition optimistically. The local
// placeholder is visible at once and is replaced by the instance the
// remote returns, or removed if the remote fails.
func (s *Session) AcceptChallenge(ctx context.Context, id DefinitionID) (ChallengeInstance, error) {
	s.mu.Lock()
	def, ok := s.definitions[id]
	var gateErr error
	if ok {
		gateErr = s.journey.Gate(id)
	}
	s.mu.Unlock()
	if !ok {
		return ChallengeInstance{}, fmt.Errorf("accept %s: %w", id, ErrUnknownChallenge)
	}
	if gateErr != nil {
		return ChallengeInstance{}, gateErr
	}

	// placeholder is the local instance id; it is removed on confirm or
	// rollback whatever status it reached meanwhile.
	var placeholder InstanceID
	cell := LockedCell[*ChallengeInstance]{
		L: &s.mu,
		Get: func() *ChallengeInstance {
			inst, ok := s.book.InProgressFor(id)
			if !ok {
				return nil
			}
			return &inst
		},
		Set: func(next *ChallengeInstance) {
			for _, cur := range s.book.Snapshot() {
				if cur.DefinitionID != id || (next != nil && cur.ID == next.ID) {
					continue
				}
				if cur.ID == placeholder || cur.Status.InProgress() {
					s.book.Remove(cur.ID)
					s.detector.Forget(cur.ID)
				}
			}
			if next != nil {
				s.book.Put(*next)
			}
			s.recomputeJourney()
		},
	}

	result, err := Run[*ChallengeInstance](ctx, s.coord, cell, Mutation[*ChallengeInstance]{
		Entity: challengeEntity(id),
		Apply: func(current *ChallengeInstance) (*ChallengeInstance, error) {
			if current != nil {
				return nil, &AlreadyActiveError{DefinitionID: id, InstanceID: current.ID}
			}
			inst, err := s.book.Prepare(def, s.clock())
			if err != nil {
				return nil, err
			}
			placeholder = inst.ID
			return &inst, nil
		},
		Remote: func(ctx context.Context, optimistic *ChallengeInstance) (**ChallengeInstance, error) {
			remote, err := s.challenges.Accept(ctx, id)
			if err != nil {
				return nil, remoteError("accept "+string(id), err)
			}
			auth := reconcileAccepted(*optimistic, remote)
			p := &auth
			return &p, nil
		},
	})
	if err != nil {
		s.flush()
		return ChallengeInstance{}, err
	}

	s.mu.Lock()
	s.observe()
	persistErr := s.persist(ctx)
	s.mu.Unlock()
	s.flush()

	s.logger.WithFields(logrus.Fields{
		"definition": id,
		"instance":   result.ID,
	}).Info("challenge accepted")
	return *result, persistErr
}

// reconcileAccepted fills fields the remote left empty from the local
// placeholder. An ACCEPTED remote status moves on to ACTIVE implicitly.
func reconcileAccepted(placeholder, remote ChallengeInstance) ChallengeInstance {
	out := remote
	if out.ID == "" {
		out.ID = placeholder.ID
	}
	if out.DefinitionID == "" {
		out.DefinitionID = placeholder.DefinitionID
	}
	if out.Status == "" || out.Status == StatusAvailable || out.Status == StatusAccepted {
		out.Status = StatusActive
	}
	if out.Target == 0 {
		out.Target = placeholder.Target
	}
	if out.RewardPoints == 0 {
		out.RewardPoints = placeholder.RewardPoints
	}
	if out.Difficulty == "" {
		out.Difficulty = placeholder.Difficulty
	}
	if out.AcceptedAt.IsZero() {
		out.AcceptedAt = placeholder.AcceptedAt
	}
	if out.ExpiresAt == nil {
		out.ExpiresAt = placeholder.ExpiresAt
	}
	if out.Progress < 0 {
		out.Progress = 0
	}
	return out
}

// RecordProgress applies a local progress reading. Completion detection
// and reward issuance run exactly as they do after a refresh. A reading
// past the window end expires the instance and returns ErrOutsideWindow.
func (s *Session) RecordProgress(ctx context.Context, id InstanceID, value int) (ChallengeInstance, error) {
	release, err := s.lockInstance(ctx, "record progress", id)
	if err != nil {
		return ChallengeInstance{}, err
	}

	s.mu.Lock()
	inst, err := s.book.RecordProgress(id, value, s.clock())
	if err != nil && !errors.Is(err, ErrOutsideWindow) {
		s.mu.Unlock()
		release()
		return inst, err
	}
	s.observe()
	s.recomputeJourney()
	persistErr := s.persist(ctx)
	s.mu.Unlock()
	release()

	if err != nil {
		s.logger.WithField("instance", id).Info("progress arrived after the window closed, instance expired")
		s.flush()
		return inst, multierr.Append(err, persistErr)
	}

	err = multierr.Append(persistErr, s.issueRewards(ctx))
	s.flush()
	return inst, err
}

func (s *Session) Abandon(ctx context.Context, id InstanceID) (ChallengeInstance, error) {
	release, err := s.lockInstance(ctx, "abandon", id)
	if err != nil {
		return ChallengeInstance{}, err
	}
	defer release()

	s.mu.Lock()
	inst, err := s.book.Abandon(id)
	if err != nil {
		s.mu.Unlock()
		return inst, err
	}
	s.observe()
	s.recomputeJourney()
	persistErr := s.persist(ctx)
	s.mu.Unlock()
	s.flush()
	return inst, persistErr
}

// lockInstance takes the entity lock of the instance's definition, so a
// local change waits for an accept of the same definition to settle.
func (s *Session) lockInstance(ctx context.Context, op string, id InstanceID) (func(), error) {
	s.mu.Lock()
	inst, ok := s.book.Get(id)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, id, ErrUnknownInstance)
	}
	release, err := s.coord.Acquire(ctx, challengeEntity(inst.DefinitionID))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	return release, nil
}

// =============================================================================
// ECONOMY OPERATIONS
// =============================================================================

// Purchase buys an item optimistically. A local decline (insufficient
// funds) notifies the presenter and never reaches the remote; a remote
// failure or refusal restores the exact prior balance and inventory.
func (s *Session) Purchase(ctx context.Context, itemID ItemID) (CharacterProgress, error) {
	item, err := s.shop.Item(itemID)
	if err != nil {
		s.metrics.CounterPurchases.WithLabelValues("invalid").Inc()
		return s.Progress(), err
	}

	cell := LockedCell[CharacterProgress]{
		L:   &s.mu,
		Get: func() CharacterProgress { return s.progress.Clone() },
		Set: func(p CharacterProgress) { s.progress = p },
	}

	result, err := Run(ctx, s.coord, cell, Mutation[CharacterProgress]{
		Entity: entityCharacter,
		Apply: func(current CharacterProgress) (CharacterProgress, error) {
			return Purchase(current, item)
		},
		Remote: func(ctx context.Context, optimistic CharacterProgress) (*CharacterProgress, error) {
			res, err := s.economy.Spend(ctx, item.Price, PurchaseKey(s.user, item.ID))
			if err != nil {
				return nil, remoteError("spend", err)
			}
			if !res.Success {
				return nil, fmt.Errorf("spend %d for %s: %w", item.Price, item.ID, ErrStaleWrite)
			}
			auth := optimistic.Clone()
			auth.Balance = res.NewBalance
			return &auth, nil
		},
	})
	switch {
	case err == nil:
	case IsDeclined(err):
		s.metrics.CounterPurchases.WithLabelValues("declined").Inc()
		s.mu.Lock()
		s.pending.declined = append(s.pending.declined, item)
		s.mu.Unlock()
		s.flush()
		return result, err
	case IsValidation(err):
		s.metrics.CounterPurchases.WithLabelValues("invalid").Inc()
		return result, err
	default:
		s.metrics.CounterPurchases.WithLabelValues("failed").Inc()
		return result, err
	}

	s.mu.Lock()
	appendErr := s.journal.Append(ctx, JournalEntry{
		ID:             uuid.NewString(),
		UserID:         s.user,
		Kind:           EntryPurchase,
		CurrencyDelta:  -item.Price,
		ReferenceID:    string(item.ID),
		IdempotencyKey: PurchaseKey(s.user, item.ID),
		CreatedAt:      s.clock(),
	})
	if errors.Is(appendErr, ErrDuplicateEntry) {
		appendErr = nil
	}
	persistErr := s.persist(ctx)
	s.mu.Unlock()

	s.metrics.CounterPurchases.WithLabelValues("ok").Inc()
	s.logger.WithFields(logrus.Fields{
		"item":    item.ID,
		"price":   item.Price,
		"balance": result.Balance,
	}).Info("item purchased")
	return result, multierr.Combine(appendErr, persistErr)
}

// SyncBalance overwrites the local balance with the remote one. It runs
// under the character entity lock, so it never interleaves with a
// purchase or a reward credit.
func (s *Session) SyncBalance(ctx context.Context) (int, error) {
	release, err := s.coord.Acquire(ctx, entityCharacter)
	if err != nil {
		return 0, err
	}
	defer release()

	balance, err := s.economy.GetBalance(context.WithoutCancel(ctx))
	if err != nil {
		return s.Progress().Balance, remoteError("get balance", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delta := balance - s.progress.Balance
	if delta == 0 {
		return balance, nil
	}
	next := s.progress.Clone()
	next.Balance = balance
	s.progress = next

	err = s.journal.Append(ctx, JournalEntry{
		ID:             uuid.NewString(),
		UserID:         s.user,
		Kind:           EntrySync,
		CurrencyDelta:  delta,
		ReferenceID:    "economy",
		IdempotencyKey: "sync:" + string(s.user) + ":" + uuid.NewString(),
		CreatedAt:      s.clock(),
	})
	return balance, multierr.Append(err, s.persist(ctx))
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Session) CurrentEvent() (CompletionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Current()
}

// AcknowledgeEvent dismisses the current event. The next queued event, if
// any, becomes current and is announced to the presenter.
func (s *Session) AcknowledgeEvent(ctx context.Context, id InstanceID) error {
	s.mu.Lock()
	next, hasNext, ok := s.queue.Acknowledge(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("acknowledge %s: not the current event: %w", id, ErrUnknownInstance)
	}
	if hasNext {
		s.pending.events = append(s.pending.events, next)
	}
	err := s.persist(ctx)
	s.mu.Unlock()
	s.flush()
	return err
}

func (s *Session) flush() {
	s.mu.Lock()
	n := s.pending
	s.pending = notifications{}
	s.mu.Unlock()

	for _, ev := range n.events {
		s.presenter.OnCompletionEvent(ev)
	}
	if n.graph != nil {
		s.presenter.OnGraphChanged(n.graph)
	}
	for _, item := range n.declined {
		s.presenter.OnInsufficientFunds(item)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Session) User() UserID { return s.user }

func (s *Session) Progress() CharacterProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.Clone()
}

func (s *Session) Instances() []ChallengeInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Snapshot()
}

func (s *Session) Instance(id InstanceID) (ChallengeInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Get(id)
}

func (s *Session) Definitions() []ChallengeDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.definitionList()
}

func (s *Session) JourneyNodes() []JourneyNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journey.Nodes()
}

func (s *Session) ShopItems() []InventoryItem { return s.shop.Items() }

func (s *Session) History(ctx context.Context) ([]JournalEntry, error) {
	return s.journal.Entries(ctx, s.user)
}

// Busy reports whether a purchase or reward credit is in flight.
func (s *Session) Busy() bool { return s.coord.InFlight(entityCharacter) }
