package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_RegistersEverything(t *testing.T) {
	m, reg := NewTestManagerAndRegistry()

	m.CounterRequests.WithLabelValues("GET", "200").Inc()
	m.CounterPurchases.WithLabelValues("ok").Inc()
	m.CounterRollbacks.WithLabelValues("character").Inc()
	m.CounterCompletions.Inc()
	m.CounterRewardsIssued.Inc()
	m.CounterRewardsSkipped.Inc()
	m.CounterRewardsRestored.Inc()
	m.CounterRefreshErrors.Inc()
	m.GaugeSessions.Set(3)
	m.HistRefreshDuration.Observe(0.2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "progression_test_request")
	assert.Contains(t, names, "progression_test_rewards_issued")
	assert.Contains(t, names, "progression_test_refresh_duration_seconds")
	assert.Len(t, names, 10)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRewardsIssued))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GaugeSessions))
}

func TestNewManager_DuplicateRegistrationPanics(t *testing.T) {
	_, reg := NewTestManagerAndRegistry()
	assert.Panics(t, func() {
		NewManager("progression", "test", reg)
	})
}

func TestNewTestManager_Isolated(t *testing.T) {
	a := NewTestManager()
	b := NewTestManager()
	a.CounterCompletions.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CounterCompletions))
}
