/*
registry.go - Per-user session registry

PURPOSE:
  The engine is a per-user service object. The registry creates one
  Session per user on first use, each wired to its own simulated backend,
  and hands them to the handlers and the refresh poller.

LIFECYCLE:
  1. Get(user) on an unknown user builds the backend and the session
  2. Session.Load restores persisted state
  3. A first Refresh pulls the catalog; failure is logged, not fatal
  4. The session lives until Close
*/
package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/progression-engine/metrics"
	"github.com/warp/progression-engine/progression"
	"github.com/warp/progression-engine/remote"
)

type RegistryConfig struct {
	Store   progression.KVStore
	Journal progression.Journal
	Shop    []progression.InventoryItem
	Journey []progression.NodeDefinition

	// Definitions feeds every user's simulated backend.
	Definitions func(now time.Time) []progression.ChallengeDefinition

	StartingBalance  int
	CacheSizeBytes   int
	CacheTTLSeconds  int
	SimulatorLatency time.Duration

	Logger  *logrus.Entry
	Metrics *metrics.Manager
	Clock   func() time.Time
}

// Backend is everything the registry holds for one user.
type Backend struct {
	Session   *progression.Session
	Simulator *remote.Simulator
	Cache     *remote.CachedChallenges
	Presenter *RecordingPresenter
}

type Registry struct {
	cfg  RegistryConfig
	shop *progression.Shop

	mu    sync.Mutex
	users map[progression.UserID]*Backend
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	shop, err := progression.NewShop(cfg.Shop)
	if err != nil {
		return nil, err
	}
	// Fail fast on a bad journey instead of on the first request.
	if _, err := progression.NewJourney(cfg.Journey); err != nil {
		return nil, err
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
	return &Registry{
		cfg:   cfg,
		shop:  shop,
		users: make(map[progression.UserID]*Backend),
	}, nil
}

// Get returns the user's backend, creating and loading it on first use.
func (r *Registry) Get(ctx context.Context, user progression.UserID) (*Backend, error) {
	if user == "" {
		return nil, fmt.Errorf("user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.users[user]; ok {
		return b, nil
	}

	b, err := r.build(user)
	if err != nil {
		return nil, err
	}
	if err := b.Session.Load(ctx); err != nil {
		return nil, fmt.Errorf("load session %s: %w", user, err)
	}
	if err := b.Session.Refresh(ctx); err != nil {
		r.cfg.Logger.WithError(err).WithField("user", user).Warn("initial refresh failed")
	}

	r.users[user] = b
	r.cfg.Metrics.GaugeSessions.Set(float64(len(r.users)))
	return b, nil
}

func (r *Registry) build(user progression.UserID) (*Backend, error) {
	logger := r.cfg.Logger.WithField("component", "session")

	sim := remote.NewSimulator(r.cfg.Definitions, r.cfg.StartingBalance)
	sim.Clock = r.cfg.Clock
	sim.Latency = r.cfg.SimulatorLatency

	cache := remote.NewCachedChallenges(sim, string(user), r.cfg.CacheSizeBytes, r.cfg.CacheTTLSeconds, logger)
	presenter := NewRecordingPresenter(logger.WithField("user", user))

	session, err := progression.NewSession(progression.SessionConfig{
		User:            user,
		Challenges:      cache,
		Economy:         sim,
		Store:           r.cfg.Store,
		Journal:         r.cfg.Journal,
		Shop:            r.shop,
		Journey:         r.cfg.Journey,
		Presenter:       presenter,
		Logger:          logger,
		Metrics:         r.cfg.Metrics,
		Clock:           r.cfg.Clock,
		StartingBalance: r.cfg.StartingBalance,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{Session: session, Simulator: sim, Cache: cache, Presenter: presenter}, nil
}

// Sessions lists open sessions in user order, for the poller.
func (r *Registry) Sessions() []progression.Refresher {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]progression.UserID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]progression.Refresher, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.users[id].Session)
	}
	return out
}

func (r *Registry) Users() []progression.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]progression.UserID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Drop forgets a user's in-memory session. Persisted state is kept, so
// the next Get reloads it.
func (r *Registry) Drop(user progression.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, user)
	r.cfg.Metrics.GaugeSessions.Set(float64(len(r.users)))
}
