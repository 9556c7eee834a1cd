package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests        *prometheus.CounterVec
	CounterCompletions     prometheus.Counter
	CounterRewardsIssued   prometheus.Counter
	CounterRewardsSkipped  prometheus.Counter
	CounterRewardsRestored prometheus.Counter
	CounterPurchases       *prometheus.CounterVec
	CounterRollbacks       *prometheus.CounterVec
	CounterRefreshErrors   prometheus.Counter

	// gauges
	GaugeSessions prometheus.Gauge

	// histograms
	HistRefreshDuration prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("progression", "test", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("progression", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming API requests",
	}, []string{"method", "status"})
	counterCompletions := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "completion_events",
		Help:      "The total number of detected challenge completions",
	})
	counterRewardsIssued := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rewards_issued",
		Help:      "The total number of rewards credited",
	})
	counterRewardsSkipped := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rewards_skipped",
		Help:      "Reward credits skipped because they were already issued",
	})
	counterRewardsRestored := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rewards_restored",
		Help:      "Journaled rewards re-applied to progress after a lost write",
	})
	counterPurchases := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "purchases",
		Help:      "Purchases by result (ok, declined, invalid, failed)",
	}, []string{"result"})
	counterRollbacks := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rollbacks",
		Help:      "Optimistic mutations rolled back, by entity kind",
	}, []string{"entity"})
	counterRefreshErrors := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "refresh_errors",
		Help:      "Refresh cycles that failed to reach the remote",
	})

	gaugeSessions := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions",
		Help:      "Current number of open user sessions",
	})

	histRefreshDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a refresh cycle, remote calls included",
		Buckets:   prometheus.DefBuckets,
	})

	return &Manager{
		CounterRequests:        counterRequests,
		CounterCompletions:     counterCompletions,
		CounterRewardsIssued:   counterRewardsIssued,
		CounterRewardsSkipped:  counterRewardsSkipped,
		CounterRewardsRestored: counterRewardsRestored,
		CounterPurchases:       counterPurchases,
		CounterRollbacks:       counterRollbacks,
		CounterRefreshErrors:   counterRefreshErrors,
		GaugeSessions:          gaugeSessions,
		HistRefreshDuration:    histRefreshDuration,
	}
}
