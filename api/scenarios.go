/*
scenarios.go - Demo scenarios for testing and demonstrations

PURPOSE:
  Drives a user's session and simulated backend through a scripted story
  so the client (or a curious developer) can see each engine feature
  without tapping through it by hand.

AVAILABLE SCENARIOS:
  first-completion: Accept First Steps, walk it, collect the reward
  journey-unlock:   Complete First Steps, then Warm-up Streak unlocks
  rollback:         Accept while the backend is down; the placeholder vanishes
  shop-spree:       Buy an item, hit insufficient funds, hit a refused spend

HOW SCENARIOS WORK:
  1. Resolve the user's backend (created on first use)
  2. Run each step against the session or the simulator
  3. Record every step outcome, failures included
  4. Return the step log with the final character

USAGE VIA API:
  GET  /api/scenarios
  POST /api/users/{user}/scenarios/{id}

NOTE:
  Scenarios mutate real session state. Only use in development/demo
  environments. Run them on a fresh user for predictable output.

SEE ALSO:
  - simulator.go: Manual backend controls
  - catalog/:     Challenge, shop and journey content the scripts rely on
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/progression-engine/progression"
	"github.com/warp/progression-engine/remote"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type ScenarioStep struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type ScenarioResult struct {
	Scenario string         `json:"scenario"`
	Steps    []ScenarioStep `json:"steps"`
	Progress ProgressDTO    `json:"progress"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "first-completion",
		Name:        "First Completion",
		Description: "Accept First Steps, sync 1,000 steps and collect the reward",
		Category:    "challenges",
	},
	{
		ID:          "journey-unlock",
		Name:        "Journey Unlock",
		Description: "Complete First Steps so Warm-up Streak unlocks, then finish it",
		Category:    "journey",
	},
	{
		ID:          "rollback",
		Name:        "Rollback",
		Description: "Accept Burn Week while the backend is failing; the placeholder is rolled back",
		Category:    "optimistic",
	},
	{
		ID:          "shop-spree",
		Name:        "Shop Spree",
		Description: "Buy a headband, get declined on a theme, then hit a refused spend",
		Category:    "economy",
	},
}

// scenarioRun accumulates step outcomes. A failed step only stops the
// script when the loader checks the result of step.
type scenarioRun struct {
	ctx   context.Context
	b     *Backend
	steps []ScenarioStep
}

func (r *scenarioRun) step(action string, err error) bool {
	st := ScenarioStep{Action: action, OK: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	r.steps = append(r.steps, st)
	return err == nil
}

// expect records a step that is supposed to fail; it is OK when it does.
func (r *scenarioRun) expect(action string, err error, want func(error) bool) {
	st := ScenarioStep{Action: action, OK: err != nil && want(err)}
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Error = "expected an error"
	}
	r.steps = append(r.steps, st)
}

// complete accepts def, lets the simulator finish it and refreshes so the
// engine detects the completion and credits the reward.
func (r *scenarioRun) complete(def progression.DefinitionID, amount int) bool {
	if _, err := r.b.Session.AcceptChallenge(r.ctx, def); !r.step("accept "+string(def), err) {
		return false
	}
	if _, err := r.b.Simulator.RecordActivity(def, amount); !r.step(fmt.Sprintf("activity %s +%d", def, amount), err) {
		return false
	}
	if !r.step("refresh", r.b.Session.Refresh(r.ctx)) {
		return false
	}
	if ev, ok := r.b.Session.CurrentEvent(); ok {
		return r.step("acknowledge "+string(ev.DefinitionID), r.b.Session.AcknowledgeEvent(r.ctx, ev.InstanceID))
	}
	return r.step("current event", fmt.Errorf("no completion event for %s", def))
}

// =============================================================================
// LOADERS
// =============================================================================

func loadFirstCompletion(r *scenarioRun) {
	r.complete("first-steps", 1000)
}

func loadJourneyUnlock(r *scenarioRun) {
	_, err := r.b.Session.AcceptChallenge(r.ctx, "warmup-streak")
	r.expect("accept warmup-streak while locked", err, progression.IsValidation)
	if !r.complete("first-steps", 1000) {
		return
	}
	r.complete("warmup-streak", 3)
}

func loadRollback(r *scenarioRun) {
	r.b.Simulator.Fail(remote.OpAccept, nil, 1)
	_, err := r.b.Session.AcceptChallenge(r.ctx, "weekly-calories")
	r.expect("accept weekly-calories while backend fails", err, progression.IsRecoverable)

	for _, inst := range r.b.Session.Instances() {
		if inst.DefinitionID == "weekly-calories" && inst.Status.InProgress() {
			r.step("placeholder rolled back", fmt.Errorf("instance %s still present", inst.ID))
			return
		}
	}
	r.step("placeholder rolled back", nil)

	_, err = r.b.Session.AcceptChallenge(r.ctx, "weekly-calories")
	r.step("retry accept weekly-calories", err)
}

func loadShopSpree(r *scenarioRun) {
	r.b.Simulator.SetBalance(200)
	_, err := r.b.Session.SyncBalance(r.ctx)
	if !r.step("sync balance to 200", err) {
		return
	}

	_, err = r.b.Session.Purchase(r.ctx, "headband")
	r.step("purchase headband", err)

	_, err = r.b.Session.Purchase(r.ctx, "sunrise-theme")
	r.expect("purchase sunrise-theme over budget", err, progression.IsDeclined)

	r.b.Simulator.RefuseSpends(true)
	_, err = r.b.Session.Purchase(r.ctx, "water-bottle")
	r.b.Simulator.RefuseSpends(false)
	r.expect("purchase water-bottle while economy refuses", err, progression.IsRecoverable)

	_, err = r.b.Session.SyncBalance(r.ctx)
	r.step("sync balance", err)
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs a scenario for one user.
// POST /api/users/{user}/scenarios/{id}
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var loader func(*scenarioRun)
	switch id {
	case "first-completion":
		loader = loadFirstCompletion
	case "journey-unlock":
		loader = loadJourneyUnlock
	case "rollback":
		loader = loadRollback
	case "shop-spree":
		loader = loadShopSpree
	default:
		writeError(w, http.StatusNotFound, "Scenario not found", nil)
		return
	}

	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	run := &scenarioRun{ctx: r.Context(), b: b}
	loader(run)

	h.Logger.WithField("scenario", id).WithField("steps", len(run.steps)).Info("scenario loaded")
	writeJSON(w, http.StatusOK, ScenarioResult{
		Scenario: id,
		Steps:    run.steps,
		Progress: toProgressDTO(b.Session.Progress(), h.Curve),
	})
}
