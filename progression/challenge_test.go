/*
challenge_test.go - Tests for the challenge state machine

Tests for:
- Accept (already active, validity window)
- RecordProgress (monotonicity, completion)
- Abandon / ExpireDue
- Auto-enroll
- Merge of authoritative remote snapshots
*/
package progression

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func testDefinition(id DefinitionID, target int) ChallengeDefinition {
	return ChallengeDefinition{
		ID:           id,
		Name:         string(id),
		Category:     CategorySpecial,
		Objective:    ObjectiveSteps,
		Target:       target,
		RewardPoints: 100,
		Difficulty:   DifficultyEasy,
	}
}

// sequentialBook returns a book whose ids are inst-1, inst-2, ...
func sequentialBook() *ChallengeBook {
	b := NewChallengeBook()
	n := 0
	b.NewID = func() InstanceID {
		n++
		return InstanceID(fmt.Sprintf("inst-%d", n))
	}
	return b
}

func TestParseChallengeStatus(t *testing.T) {
	st, err := ParseChallengeStatus("ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	_, err = ParseChallengeStatus("active")
	assert.Error(t, err, "statuses are case sensitive")
	_, err = ParseChallengeStatus("PAUSED")
	assert.Error(t, err)
}

func TestAccept_CreatesActiveInstance(t *testing.T) {
	// GIVEN: An empty book
	b := sequentialBook()
	def := testDefinition("walk", 50)
	def.EndsAt = testNow.Add(24 * time.Hour)

	// WHEN: Accepting a definition
	inst, err := b.Accept(def, testNow)

	// THEN: The instance is ACTIVE with progress 0 and a copied target
	require.NoError(t, err)
	assert.Equal(t, InstanceID("inst-1"), inst.ID)
	assert.Equal(t, StatusActive, inst.Status)
	assert.Equal(t, 0, inst.Progress)
	assert.Equal(t, 50, inst.Target)
	assert.Equal(t, 100, inst.RewardPoints)
	require.NotNil(t, inst.ExpiresAt)
	assert.Equal(t, def.EndsAt, *inst.ExpiresAt)
	assert.False(t, inst.RewardIssued)
}

func TestAccept_AlreadyActive(t *testing.T) {
	b := sequentialBook()
	def := testDefinition("walk", 50)
	first, err := b.Accept(def, testNow)
	require.NoError(t, err)

	// WHEN: Accepting the same definition again
	_, err = b.Accept(def, testNow)

	// THEN: AlreadyActive naming the existing instance
	var aae *AlreadyActiveError
	require.ErrorAs(t, err, &aae)
	assert.Equal(t, first.ID, aae.InstanceID)
	assert.True(t, IsValidation(err))
	assert.Len(t, b.Snapshot(), 1)
}

func TestAccept_AfterAbandonIsAllowed(t *testing.T) {
	b := sequentialBook()
	def := testDefinition("walk", 50)
	first, err := b.Accept(def, testNow)
	require.NoError(t, err)
	_, err = b.Abandon(first.ID)
	require.NoError(t, err)

	second, err := b.Accept(def, testNow)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAccept_OutsideWindow(t *testing.T) {
	b := sequentialBook()
	def := testDefinition("walk", 50)
	def.StartsAt = testNow.Add(time.Hour)

	_, err := b.Accept(def, testNow)
	require.ErrorIs(t, err, ErrOutsideWindow)

	def.StartsAt = time.Time{}
	def.EndsAt = testNow
	_, err = b.Accept(def, testNow)
	require.ErrorIs(t, err, ErrOutsideWindow, "window end is exclusive")
	assert.Empty(t, b.Snapshot())
}

func TestPrepare_DoesNotStore(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Prepare(testDefinition("walk", 50), testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, inst.Status)
	assert.Empty(t, b.Snapshot())

	b.Put(inst)
	got, ok := b.InProgressFor("walk")
	require.True(t, ok)
	assert.Equal(t, inst.ID, got.ID)
}

func TestRecordProgress_CompletesOnCrossing(t *testing.T) {
	// GIVEN: Target 50, progress 45
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 50), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 45, testNow)
	require.NoError(t, err)

	// WHEN: Recording 50
	done, err := b.RecordProgress(inst.ID, 50, testNow)

	// THEN: COMPLETED and reward-pending, not yet issued
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.True(t, done.RewardPending())
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, testNow, *done.CompletedAt)
}

func TestRecordProgress_RegressionFails(t *testing.T) {
	// GIVEN: Progress 45
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 50), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 45, testNow)
	require.NoError(t, err)

	// WHEN: Recording 40
	_, err = b.RecordProgress(inst.ID, 40, testNow)

	// THEN: ProgressRegression, progress stays 45
	var pre *ProgressRegressionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, 45, pre.Current)
	assert.Equal(t, 40, pre.Attempted)
	got, _ := b.Get(inst.ID)
	assert.Equal(t, 45, got.Progress)
	assert.Equal(t, StatusActive, got.Status)
}

func TestRecordProgress_SameValueIsNoop(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 50), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 10, testNow)
	require.NoError(t, err)
	got, err := b.RecordProgress(inst.ID, 10, testNow)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Progress)
}

func TestRecordProgress_TerminalRejected(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 50), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 50, testNow)
	require.NoError(t, err)

	_, err = b.RecordProgress(inst.ID, 60, testNow)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = b.RecordProgress("missing", 1, testNow)
	require.ErrorIs(t, err, ErrUnknownInstance)
}

func TestRecordProgress_AfterWindowExpires(t *testing.T) {
	// GIVEN: An ACTIVE instance whose window closes in one hour
	b := sequentialBook()
	def := testDefinition("walk", 50)
	def.EndsAt = testNow.Add(time.Hour)
	inst, err := b.Accept(def, testNow)
	require.NoError(t, err)

	// WHEN: A completing reading arrives three hours later
	got, err := b.RecordProgress(inst.ID, 50, testNow.Add(3*time.Hour))

	// THEN: The instance expires instead of completing
	require.ErrorIs(t, err, ErrOutsideWindow)
	assert.True(t, IsValidation(err))
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.False(t, got.RewardPending())
	assert.Nil(t, got.CompletedAt)

	stored, _ := b.Get(inst.ID)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestRecordProgress_AtWindowEndExpires(t *testing.T) {
	b := sequentialBook()
	def := testDefinition("walk", 50)
	def.EndsAt = testNow.Add(time.Hour)
	inst, err := b.Accept(def, testNow)
	require.NoError(t, err)

	_, err = b.RecordProgress(inst.ID, 10, def.EndsAt.Add(-time.Nanosecond))
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 20, def.EndsAt)
	require.ErrorIs(t, err, ErrOutsideWindow)
}

func TestAbandon(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 50), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 20, testNow)
	require.NoError(t, err)

	got, err := b.Abandon(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status)
	assert.Equal(t, 20, got.Progress, "progress is kept for audit")
	assert.False(t, got.RewardPending())

	_, err = b.Abandon(inst.ID)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusAbandoned, te.From)
}

func TestExpireDue(t *testing.T) {
	b := sequentialBook()
	def := testDefinition("daily", 50)
	def.EndsAt = testNow.Add(time.Hour)
	inst, err := b.Accept(def, testNow)
	require.NoError(t, err)

	assert.Empty(t, b.ExpireDue(testNow))

	expired := b.ExpireDue(testNow.Add(time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, inst.ID, expired[0].ID)
	got, _ := b.Get(inst.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestEnroll_AutoEnrollOnly(t *testing.T) {
	// GIVEN: One auto-enroll definition and one regular
	b := sequentialBook()
	auto := testDefinition("daily-steps", 100)
	auto.AutoEnroll = true
	manual := testDefinition("manual", 100)

	// WHEN: Enrolling twice
	created := b.Enroll([]ChallengeDefinition{auto, manual}, testNow)
	again := b.Enroll([]ChallengeDefinition{auto, manual}, testNow)

	// THEN: One ACTIVE instance for the auto-enroll definition only
	require.Len(t, created, 1)
	assert.Equal(t, DefinitionID("daily-steps"), created[0].DefinitionID)
	assert.Equal(t, StatusActive, created[0].Status)
	assert.Empty(t, again)
}

func TestEnroll_SettledNotRecreated(t *testing.T) {
	b := sequentialBook()
	auto := testDefinition("daily-steps", 10)
	auto.AutoEnroll = true
	created := b.Enroll([]ChallengeDefinition{auto}, testNow)
	require.Len(t, created, 1)
	_, err := b.RecordProgress(created[0].ID, 10, testNow)
	require.NoError(t, err)

	assert.Empty(t, b.Enroll([]ChallengeDefinition{auto}, testNow))
}

func TestMarkRewardIssued_ExactlyOnce(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 10), testNow)
	require.NoError(t, err)
	assert.False(t, b.MarkRewardIssued(inst.ID), "not completed yet")

	_, err = b.RecordProgress(inst.ID, 10, testNow)
	require.NoError(t, err)
	assert.True(t, b.MarkRewardIssued(inst.ID))
	assert.False(t, b.MarkRewardIssued(inst.ID))
	assert.False(t, b.MarkRewardIssued("missing"))
}

func TestMerge_AddsUnknownAndKeepsMaxProgress(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 100), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 60, testNow)
	require.NoError(t, err)

	remoteLower := inst
	remoteLower.Progress = 40
	other := ChallengeInstance{ID: "remote-1", DefinitionID: "run", Status: StatusActive, Target: 5, Progress: -3}

	b.Merge([]ChallengeInstance{remoteLower, other}, testNow)

	got, _ := b.Get(inst.ID)
	assert.Equal(t, 60, got.Progress, "progress never decreases")
	added, ok := b.Get("remote-1")
	require.True(t, ok)
	assert.Equal(t, 0, added.Progress, "negative remote progress clamps to zero")
}

func TestMerge_RemoteCompletion(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 100), testNow)
	require.NoError(t, err)

	remote := inst
	remote.Status = StatusCompleted
	remote.Progress = 100
	completedAt := testNow.Add(-time.Minute)
	remote.CompletedAt = &completedAt

	b.Merge([]ChallengeInstance{remote}, testNow)

	got, _ := b.Get(inst.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, completedAt, *got.CompletedAt)
}

func TestMerge_TerminalLocalNeverReverted(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 10), testNow)
	require.NoError(t, err)
	_, err = b.RecordProgress(inst.ID, 10, testNow)
	require.NoError(t, err)
	require.True(t, b.MarkRewardIssued(inst.ID))

	stale := inst
	stale.Status = StatusActive
	stale.Progress = 3
	b.Merge([]ChallengeInstance{stale}, testNow)

	got, _ := b.Get(inst.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.RewardIssued)
	assert.Equal(t, 10, got.Progress)
}

func TestMerge_AcceptedBecomesActive(t *testing.T) {
	b := sequentialBook()
	b.Put(ChallengeInstance{ID: "x", DefinitionID: "walk", Status: StatusAccepted, Target: 10})
	b.Merge([]ChallengeInstance{{ID: "x", DefinitionID: "walk", Status: StatusActive, Target: 10, Progress: 2}}, testNow)

	got, _ := b.Get("x")
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 2, got.Progress)
}

func TestMerge_RemoteExpiry(t *testing.T) {
	b := sequentialBook()
	inst, err := b.Accept(testDefinition("walk", 10), testNow)
	require.NoError(t, err)

	remote := inst
	remote.Status = StatusExpired
	b.Merge([]ChallengeInstance{remote}, testNow)

	got, _ := b.Get(inst.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestByDefinition_PrefersLiveInstance(t *testing.T) {
	b := sequentialBook()
	def := testDefinition("walk", 10)
	first, err := b.Accept(def, testNow)
	require.NoError(t, err)
	_, err = b.Abandon(first.ID)
	require.NoError(t, err)
	second, err := b.Accept(def, testNow)
	require.NoError(t, err)

	idx := b.ByDefinition()
	assert.Equal(t, second.ID, idx["walk"].ID)
}

func TestRestore_ReplacesContents(t *testing.T) {
	b := sequentialBook()
	_, err := b.Accept(testDefinition("walk", 10), testNow)
	require.NoError(t, err)

	b.Restore([]ChallengeInstance{
		{ID: "a", DefinitionID: "one", Status: StatusActive},
		{ID: "b", DefinitionID: "two", Status: StatusCompleted},
	})

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, InstanceID("a"), snap[0].ID)
	assert.Equal(t, InstanceID("b"), snap[1].ID)
}

func TestEnroll_RecurringDailyReEnrolls(t *testing.T) {
	// GIVEN: A daily auto-enroll definition completed on day one
	b := sequentialBook()
	day := func(d int) ChallengeDefinition {
		def := testDefinition("daily-steps", 10)
		def.AutoEnroll = true
		def.StartsAt = testNow.AddDate(0, 0, d).Truncate(24 * time.Hour)
		def.EndsAt = def.StartsAt.Add(24 * time.Hour)
		return def
	}
	first := b.Enroll([]ChallengeDefinition{day(0)}, testNow)
	require.Len(t, first, 1)
	_, err := b.RecordProgress(first[0].ID, 10, testNow)
	require.NoError(t, err)

	// WHEN: Enrolling again the same day and then the next day
	sameDay := b.Enroll([]ChallengeDefinition{day(0)}, testNow.Add(time.Hour))
	tomorrow := testNow.AddDate(0, 0, 1)
	nextDay := b.Enroll([]ChallengeDefinition{day(1)}, tomorrow)

	// THEN: The settled instance blocks only its own window
	assert.Empty(t, sameDay)
	require.Len(t, nextDay, 1)
	assert.NotEqual(t, first[0].ID, nextDay[0].ID)
	assert.Equal(t, StatusActive, nextDay[0].Status)
	assert.Empty(t, b.Enroll([]ChallengeDefinition{day(1)}, tomorrow.Add(time.Hour)))
}
