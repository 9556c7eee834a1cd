/*
poller.go - Periodic refresh of open sessions

PURPOSE:
  Remote progress is pulled, never pushed. The poller refreshes every
  target on a fixed interval, and immediately when Focus is called (the
  client's screen-focus signal).

DESIGN:
  - One background goroutine, started by Start and joined by Stop
  - Runs a cycle immediately on start
  - A failing target is logged and does not stop the others
  - Focus never blocks; a burst of calls collapses into one cycle

USAGE:
  poller := NewPoller(registry.Sessions, 30*time.Second, logger)
  poller.Start()
  // ... later
  poller.Stop()
*/
package progression

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Refresher is anything the poller can refresh. *Session implements it.
type Refresher interface {
	User() UserID
	Refresh(ctx context.Context) error
}

type Poller struct {
	Targets  func() []Refresher
	Interval time.Duration
	Logger   *logrus.Entry

	// Timeout bounds one refresh of one target. Zero means no bound.
	Timeout time.Duration

	focus   chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewPoller(targets func() []Refresher, interval time.Duration, logger *logrus.Entry) *Poller {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		Targets:  targets,
		Interval: interval,
		Logger:   logger.WithField("component", "poller"),
		focus:    make(chan struct{}, 1),
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.run(p.stop)

	p.Logger.WithField("interval", p.Interval).Info("poller started")
}

// Stop halts the poller and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.running = false
	p.Logger.Info("poller stopped")
}

// Focus requests an immediate cycle.
func (p *Poller) Focus() {
	select {
	case p.focus <- struct{}{}:
	default:
	}
}

func (p *Poller) run(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.RunNow()
	for {
		select {
		case <-ticker.C:
			p.RunNow()
		case <-p.focus:
			p.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow refreshes every target once and returns the number that failed.
func (p *Poller) RunNow() int {
	if p.Targets == nil {
		return 0
	}
	failed := 0
	for _, t := range p.Targets() {
		ctx := context.Background()
		cancel := func() {}
		if p.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := t.Refresh(ctx)
		cancel()
		if err != nil {
			failed++
			p.Logger.WithError(err).WithField("user", t.User()).Warn("refresh failed")
		}
	}
	return failed
}
