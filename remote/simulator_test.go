package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progression-engine/progression"
)

var simNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func simDefs(time.Time) []progression.ChallengeDefinition {
	return []progression.ChallengeDefinition{
		{
			ID: "steps", Category: progression.CategoryDaily, Target: 100, RewardPoints: 80,
			Difficulty: progression.DifficultyMedium, AutoEnroll: true,
			StartsAt: simNow.Add(-12 * time.Hour), EndsAt: simNow.Add(12 * time.Hour),
		},
		{ID: "run", Category: progression.CategorySpecial, Target: 10, RewardPoints: 50, Difficulty: progression.DifficultyEasy},
		{
			ID: "old", Category: progression.CategoryDaily, Target: 1,
			StartsAt: simNow.Add(-48 * time.Hour), EndsAt: simNow.Add(-24 * time.Hour),
		},
	}
}

func newTestSimulator(balance int) *Simulator {
	s := NewSimulator(simDefs, balance)
	s.Clock = func() time.Time { return simNow }
	n := 0
	s.NewID = func() progression.InstanceID {
		n++
		return progression.InstanceID(fmt.Sprintf("srv-%d", n))
	}
	return s
}

func TestSimulator_ListActiveAutoEnrollsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestSimulator(0)

	first, err := s.ListActive(ctx)
	require.NoError(t, err)
	second, err := s.ListActive(ctx)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, progression.DefinitionID("steps"), first[0].DefinitionID)
	assert.Equal(t, progression.StatusActive, first[0].Status)
	assert.Equal(t, first, second)
}

func TestSimulator_Accept(t *testing.T) {
	ctx := context.Background()
	s := newTestSimulator(0)

	inst, err := s.Accept(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, progression.StatusAccepted, inst.Status)
	assert.Equal(t, 10, inst.Target)

	_, err = s.Accept(ctx, "run")
	assert.ErrorIs(t, err, progression.ErrAlreadyActive)

	_, err = s.Accept(ctx, "old")
	assert.ErrorIs(t, err, progression.ErrOutsideWindow)

	_, err = s.Accept(ctx, "ghost")
	assert.ErrorIs(t, err, progression.ErrUnknownChallenge)
	assert.Equal(t, 4, s.Calls(OpAccept))
}

func TestSimulator_RecordActivityCreditsServerSide(t *testing.T) {
	// GIVEN: An accepted medium challenge worth 80 points
	ctx := context.Background()
	s := newTestSimulator(10)
	_, err := s.ListActive(ctx)
	require.NoError(t, err)

	// WHEN: Activity crosses its target
	inst, err := s.RecordActivity("steps", 60)
	require.NoError(t, err)
	assert.Equal(t, progression.StatusActive, inst.Status)
	inst, err = s.RecordActivity("steps", 60)
	require.NoError(t, err)

	// THEN: Completed, and the currency half of the payout lands on the balance
	assert.Equal(t, progression.StatusCompleted, inst.Status)
	assert.Equal(t, 120, inst.Progress)
	require.NotNil(t, inst.CompletedAt)
	balance, err := s.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)

	_, err = s.RecordActivity("steps", 1)
	assert.ErrorIs(t, err, progression.ErrUnknownInstance)
	_, err = s.RecordActivity("run", -1)
	assert.Error(t, err)
}

func TestSimulator_Spend(t *testing.T) {
	ctx := context.Background()
	s := newTestSimulator(100)

	res, err := s.Spend(ctx, 40, "buy:hat")
	require.NoError(t, err)
	assert.Equal(t, progression.SpendResult{Success: true, NewBalance: 60}, res)

	res, err = s.Spend(ctx, 400, "buy:cape")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 60, res.NewBalance)

	s.RefuseSpends(true)
	res, err = s.Spend(ctx, 1, "buy:pin")
	require.NoError(t, err)
	assert.False(t, res.Success)

	s.SetBalance(7)
	balance, err := s.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, balance)
}

func TestSimulator_FaultInjection(t *testing.T) {
	ctx := context.Background()
	s := newTestSimulator(0)
	boom := errors.New("boom")

	// GIVEN: Two failures armed
	s.Fail(OpListDaily, boom, 2)

	// THEN: Exactly two calls fail
	_, err := s.ListDaily(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = s.ListDaily(ctx)
	assert.ErrorIs(t, err, boom)
	defs, err := s.ListDaily(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 3)

	// AND: times <= 0 fails until cleared
	s.Fail(OpGetBalance, nil, 0)
	for i := 0; i < 3; i++ {
		_, err = s.GetBalance(ctx)
		assert.ErrorIs(t, err, ErrInjected)
	}
	s.Clear(OpGetBalance)
	_, err = s.GetBalance(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 4, s.Calls(OpGetBalance))
}

func TestSimulator_LatencyHonoursContext(t *testing.T) {
	s := newTestSimulator(0)
	s.Latency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.GetBalance(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulator_ExpiresPastWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestSimulator(0)
	_, err := s.ListActive(ctx)
	require.NoError(t, err)

	s.Clock = func() time.Time { return simNow.Add(13 * time.Hour) }
	instances, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, progression.StatusExpired, instances[0].Status)
}
