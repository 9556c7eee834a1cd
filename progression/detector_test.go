package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func active(id InstanceID, progress, target int) ChallengeInstance {
	return ChallengeInstance{ID: id, DefinitionID: DefinitionID("def-" + id), Status: StatusActive, Progress: progress, Target: target, RewardPoints: 10}
}

func completed(id InstanceID, progress, target int) ChallengeInstance {
	inst := active(id, progress, target)
	inst.Status = StatusCompleted
	return inst
}

func TestDetector_EmitsOnCrossing(t *testing.T) {
	// GIVEN: An instance observed ACTIVE at 45/50
	d := NewCompletionDetector()
	assert.Empty(t, d.Observe([]ChallengeInstance{active("x", 45, 50)}))

	// WHEN: The next snapshot shows it COMPLETED at 50
	events := d.Observe([]ChallengeInstance{completed("x", 50, 50)})

	// THEN: Exactly one event
	require.Len(t, events, 1)
	assert.Equal(t, InstanceID("x"), events[0].InstanceID)
	assert.Equal(t, DefinitionID("def-x"), events[0].DefinitionID)
	assert.Equal(t, 10, events[0].RewardPoints)
	assert.True(t, d.Settled("x"))
}

func TestDetector_RepeatedRefreshesEmitOnce(t *testing.T) {
	// GIVEN: Two refreshes both report X COMPLETED after it was ACTIVE
	d := NewCompletionDetector()
	d.Observe([]ChallengeInstance{active("x", 0, 50)})

	// WHEN: Observing the completion N times
	total := 0
	for i := 0; i < 5; i++ {
		total += len(d.Observe([]ChallengeInstance{completed("x", 50, 50)}))
	}

	// THEN: Only the first detection counts
	assert.Equal(t, 1, total)
}

func TestDetector_FirstObservedCompletedIsSettled(t *testing.T) {
	// GIVEN: An instance completed server-side while the client was away
	d := NewCompletionDetector()

	// WHEN: It is first observed already COMPLETED
	events := d.Observe([]ChallengeInstance{completed("x", 50, 50)})

	// THEN: No celebration, but it is settled for good
	assert.Empty(t, events)
	assert.True(t, d.Settled("x"))
	assert.Empty(t, d.Observe([]ChallengeInstance{completed("x", 50, 50)}))
}

func TestDetector_PreviousProgressAtTargetIsNotACrossing(t *testing.T) {
	// An ACTIVE instance already at target (e.g. target lowered) that then
	// flips to COMPLETED did not cross the target in this window.
	d := NewCompletionDetector()
	d.Observe([]ChallengeInstance{active("x", 50, 50)})
	assert.Empty(t, d.Observe([]ChallengeInstance{completed("x", 50, 50)}))
	assert.True(t, d.Settled("x"))
}

func TestDetector_OrderFollowsSnapshot(t *testing.T) {
	d := NewCompletionDetector()
	d.Observe([]ChallengeInstance{active("a", 0, 1), active("b", 0, 1), active("c", 0, 1)})

	events := d.Observe([]ChallengeInstance{completed("c", 1, 1), completed("a", 1, 1), active("b", 0, 1)})
	require.Len(t, events, 2)
	assert.Equal(t, InstanceID("c"), events[0].InstanceID)
	assert.Equal(t, InstanceID("a"), events[1].InstanceID)
}

func TestDetector_StateRoundTrip(t *testing.T) {
	// GIVEN: A detector that has settled one instance and is tracking another
	d := NewCompletionDetector()
	d.Observe([]ChallengeInstance{active("a", 0, 10), completed("b", 10, 10)})

	// WHEN: Its state is restored into a fresh detector
	restored := NewCompletionDetector()
	restored.Restore(d.State())

	// THEN: It behaves identically
	assert.True(t, restored.Settled("b"))
	events := restored.Observe([]ChallengeInstance{completed("a", 10, 10)})
	require.Len(t, events, 1)
	assert.Equal(t, InstanceID("a"), events[0].InstanceID)
}

func TestDetector_Forget(t *testing.T) {
	d := NewCompletionDetector()
	d.Observe([]ChallengeInstance{completed("x", 1, 1)})
	d.Forget("x")
	assert.False(t, d.Settled("x"))
}

func TestEventQueue_OneAtATime(t *testing.T) {
	var q EventQueue
	_, ok := q.Current()
	assert.False(t, ok)

	// WHEN: Two events are pushed
	assert.True(t, q.Push(CompletionEvent{InstanceID: "a"}), "head changed")
	assert.False(t, q.Push(CompletionEvent{InstanceID: "b"}), "b waits behind a")

	// THEN: Only the first is current
	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, InstanceID("a"), cur.InstanceID)
	assert.Equal(t, 2, q.Len())

	// AND: Acknowledging the wrong id is refused
	_, _, ok = q.Acknowledge("b")
	assert.False(t, ok)

	next, hasNext, ok := q.Acknowledge("a")
	require.True(t, ok)
	require.True(t, hasNext)
	assert.Equal(t, InstanceID("b"), next.InstanceID)

	_, hasNext, ok = q.Acknowledge("b")
	assert.True(t, ok)
	assert.False(t, hasNext)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Push())
}
