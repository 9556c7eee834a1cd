/*
optimistic.go - Optimistic mutation coordinator

PURPOSE:
  Makes a state change visible immediately, confirms it with the remote,
  and restores the exact pre-mutation snapshot if the remote fails.

FLOW:
  1. Acquire the entity lock (mutations on one entity are serialized)
  2. Snapshot the current value and apply the optimistic change
  3. Call the remote (no engine locks held, caller cancellation ignored)
  4. Success: keep the optimistic value, or store the authoritative one
     Failure: restore the snapshot verbatim and return the error

SERIALIZATION:
  Two mutations on the same entity never overlap: the second waits until
  the first has confirmed or rolled back, and computes its optimistic
  value from the state the first one left behind. A rollback therefore
  only ever reverts its own change. Waiting honours ctx; the remote call
  itself does not, an abandoned call still runs to completion.

VALIDATION:
  If Apply fails the mutation stops before any remote call and nothing
  is rolled back, because nothing was applied.

SEE ALSO:
  - session.go: Accept and Purchase run through here
  - store/memory/memory.go: Same snapshot + restore idea for transactional writes
*/
package progression

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Cell is a value owned by someone else's lock.
type Cell[S any] interface {
	// Swap runs fn on the current value under the owner's lock and stores
	// the result unless fn fails. It returns the value seen before fn.
	Swap(fn func(current S) (S, error)) (previous S, err error)
}

// LockedCell adapts getter/setter closures guarded by L into a Cell.
type LockedCell[S any] struct {
	L   sync.Locker
	Get func() S
	Set func(S)
}

func (c LockedCell[S]) Swap(fn func(current S) (S, error)) (S, error) {
	c.L.Lock()
	defer c.L.Unlock()
	prev := c.Get()
	next, err := fn(prev)
	if err != nil {
		return prev, err
	}
	c.Set(next)
	return prev, nil
}

// Mutation describes one optimistic change to one entity.
type Mutation[S any] struct {
	Entity string

	// Apply computes the optimistic value from the current one. Errors
	// here are validation failures and abort before the remote call.
	Apply func(current S) (S, error)

	// Remote confirms the change. A non-nil result is authoritative and
	// replaces the optimistic value.
	Remote func(ctx context.Context, optimistic S) (*S, error)
}

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	Logger *logrus.Entry

	// OnRollback is called after a snapshot has been restored.
	OnRollback func(entity string, err error)

	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	sem  chan struct{}
	refs int
}

func NewCoordinator(logger *logrus.Entry) *Coordinator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{Logger: logger, locks: make(map[string]*entityLock)}
}

// Acquire blocks until the entity is free or ctx is done.
func (c *Coordinator) Acquire(ctx context.Context, entity string) (release func(), err error) {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*entityLock)
	}
	l := c.locks[entity]
	if l == nil {
		l = &entityLock{sem: make(chan struct{}, 1)}
		c.locks[entity] = l
	}
	l.refs++
	c.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		c.unref(entity, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			c.unref(entity, l)
		})
	}, nil
}

func (c *Coordinator) unref(entity string, l *entityLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, entity)
	}
}

// InFlight reports whether a mutation holds or waits on the entity.
func (c *Coordinator) InFlight(entity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locks[entity]
	return ok
}

// Run executes m against cell. It returns the value left in the cell by
// this mutation: optimistic or authoritative on success, the restored
// snapshot on failure.
func Run[S any](ctx context.Context, c *Coordinator, cell Cell[S], m Mutation[S]) (S, error) {
	release, err := c.Acquire(ctx, m.Entity)
	if err != nil {
		var zero S
		return zero, err
	}
	defer release()

	var optimistic S
	snapshot, err := cell.Swap(func(current S) (S, error) {
		next, err := m.Apply(current)
		if err != nil {
			return current, err
		}
		optimistic = next
		return next, nil
	})
	if err != nil {
		return snapshot, err
	}

	authoritative, err := m.Remote(context.WithoutCancel(ctx), optimistic)
	if err != nil {
		_, _ = cell.Swap(func(S) (S, error) { return snapshot, nil })
		c.Logger.WithFields(logrus.Fields{
			"entity": m.Entity,
			"error":  err,
		}).Warn("optimistic mutation rolled back")
		if c.OnRollback != nil {
			c.OnRollback(m.Entity, err)
		}
		return snapshot, err
	}

	if authoritative != nil {
		_, _ = cell.Swap(func(S) (S, error) { return *authoritative, nil })
		return *authoritative, nil
	}
	return optimistic, nil
}
