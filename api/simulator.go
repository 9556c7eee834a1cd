package api

import (
	"encoding/json"
	"net/http"

	"github.com/warp/progression-engine/progression"
	"github.com/warp/progression-engine/remote"
)

// =============================================================================
// SIMULATED BACKEND CONTROLS (dev only)
// =============================================================================

// RecordActivity feeds progress into the simulated backend. The engine
// sees it on the next refresh.
// POST /api/users/{user}/sim/activity
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	inst, err := b.Simulator.RecordActivity(progression.DefinitionID(req.ChallengeID), req.Amount)
	if err != nil {
		if progression.IsNotFound(err) {
			writeEngineError(w, "No in-progress challenge", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid activity", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// InjectFault arms or clears a fault on one remote operation.
// POST /api/users/{user}/sim/faults
func (h *Handler) InjectFault(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	var req FaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	switch req.Op {
	case remote.OpListDaily, remote.OpListActive, remote.OpAccept, remote.OpGetBalance, remote.OpSpend:
	default:
		writeError(w, http.StatusBadRequest, "Unknown operation", nil)
		return
	}
	if req.Clear {
		b.Simulator.Clear(req.Op)
	} else {
		b.Simulator.Fail(req.Op, nil, req.Times)
	}
	if req.Op == remote.OpListDaily {
		b.Cache.Invalidate()
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// RefuseSpends makes the simulated economy refuse every spend.
// POST /api/users/{user}/sim/refuse-spends
func (h *Handler) RefuseSpends(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	var req RefuseSpendsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	b.Simulator.RefuseSpends(req.Refuse)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// SetRemoteBalance overwrites the simulated server balance.
// POST /api/users/{user}/sim/balance
func (h *Handler) SetRemoteBalance(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	var req SetBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Balance < 0 {
		writeError(w, http.StatusBadRequest, "Balance must be non-negative", nil)
		return
	}
	b.Simulator.SetBalance(req.Balance)
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: req.Balance})
}
