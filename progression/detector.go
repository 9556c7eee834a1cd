/*
detector.go - At-most-once completion detection

PURPOSE:
  Diffs successive snapshots of the challenge book and emits a
  CompletionEvent only for observed ACTIVE→COMPLETED crossings.

IDEMPOTENCY:
  The completed-set is keyed by instance id and updated before an event is
  returned, so a second refresh that arrives before the first event is
  acknowledged cannot emit a duplicate. Instances first observed already
  COMPLETED are settled silently: only transitions are celebrated.

DISPLAY QUEUE:
  EventQueue surfaces one event at a time in detection order. The next
  event becomes current only after the current one is acknowledged.

SEE ALSO:
  - session.go: Issues rewards for detected events
*/
package progression

import "sort"

type CompletionEvent struct {
	InstanceID   InstanceID   `json:"instance_id"`
	DefinitionID DefinitionID `json:"definition_id"`
	RewardPoints int          `json:"reward_points"`
	Difficulty   Difficulty   `json:"difficulty"`
}

type observation struct {
	Status   ChallengeStatus `json:"status"`
	Progress int             `json:"progress"`
}

// =============================================================================
// COMPLETION DETECTOR
// =============================================================================

type CompletionDetector struct {
	previous  map[InstanceID]observation
	completed map[InstanceID]bool
}

func NewCompletionDetector() *CompletionDetector {
	return &CompletionDetector{
		previous:  make(map[InstanceID]observation),
		completed: make(map[InstanceID]bool),
	}
}

// Observe compares instances against the previous snapshot and returns
// newly detected completions in snapshot order.
func (d *CompletionDetector) Observe(instances []ChallengeInstance) []CompletionEvent {
	var events []CompletionEvent
	for _, inst := range instances {
		prev, seen := d.previous[inst.ID]
		d.previous[inst.ID] = observation{Status: inst.Status, Progress: inst.Progress}

		if inst.Status != StatusCompleted {
			continue
		}
		if !seen {
			// Completed before we ever looked: already settled.
			d.completed[inst.ID] = true
			continue
		}
		if d.completed[inst.ID] || prev.Status == StatusCompleted {
			continue
		}
		if !(prev.Progress < inst.Target && inst.Target <= inst.Progress) {
			d.completed[inst.ID] = true
			continue
		}

		d.completed[inst.ID] = true
		events = append(events, CompletionEvent{
			InstanceID:   inst.ID,
			DefinitionID: inst.DefinitionID,
			RewardPoints: inst.RewardPoints,
			Difficulty:   inst.Difficulty,
		})
	}
	return events
}

// Settled reports whether the instance is in the completed-set.
func (d *CompletionDetector) Settled(id InstanceID) bool {
	return d.completed[id]
}

// Forget drops all knowledge of an instance (used when a local accept is
// rolled back and its placeholder id disappears).
func (d *CompletionDetector) Forget(id InstanceID) {
	delete(d.previous, id)
	delete(d.completed, id)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// DetectorState is the serialisable form of the detector.
type DetectorState struct {
	Previous  map[InstanceID]observation `json:"previous"`
	Completed []InstanceID               `json:"completed"`
}

func (d *CompletionDetector) State() DetectorState {
	st := DetectorState{Previous: make(map[InstanceID]observation, len(d.previous))}
	for id, o := range d.previous {
		st.Previous[id] = o
	}
	for id := range d.completed {
		st.Completed = append(st.Completed, id)
	}
	sort.Slice(st.Completed, func(i, j int) bool { return st.Completed[i] < st.Completed[j] })
	return st
}

func (d *CompletionDetector) Restore(st DetectorState) {
	d.previous = make(map[InstanceID]observation, len(st.Previous))
	for id, o := range st.Previous {
		d.previous[id] = o
	}
	d.completed = make(map[InstanceID]bool, len(st.Completed))
	for _, id := range st.Completed {
		d.completed[id] = true
	}
}

// =============================================================================
// EVENT QUEUE - One event surfaced at a time
// =============================================================================

type EventQueue struct {
	events []CompletionEvent
}

// Push appends events and reports whether the head changed (i.e. the
// queue was empty and a new event is now current).
func (q *EventQueue) Push(events ...CompletionEvent) bool {
	wasEmpty := len(q.events) == 0
	q.events = append(q.events, events...)
	return wasEmpty && len(q.events) > 0
}

func (q *EventQueue) Current() (CompletionEvent, bool) {
	if len(q.events) == 0 {
		return CompletionEvent{}, false
	}
	return q.events[0], true
}

// Acknowledge dismisses the current event if it matches id and returns the
// next current event, if any.
func (q *EventQueue) Acknowledge(id InstanceID) (next CompletionEvent, hasNext bool, ok bool) {
	if len(q.events) == 0 || q.events[0].InstanceID != id {
		return CompletionEvent{}, false, false
	}
	q.events = q.events[1:]
	next, hasNext = q.Current()
	return next, hasNext, true
}

func (q *EventQueue) Len() int { return len(q.events) }

func (q *EventQueue) Pending() []CompletionEvent {
	return append([]CompletionEvent(nil), q.events...)
}
