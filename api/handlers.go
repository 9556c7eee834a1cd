/*
handlers.go - HTTP request handlers for the progression API

PURPOSE:
  Implements HTTP handlers that translate between JSON requests and the
  per-user progression.Session. Handlers are thin: parse input, call one
  session operation, map the result or error.

ENDPOINTS (all under /api/users/{user}):
  Character:
    GET  /progress                    XP, level, stage, balance, items
    POST /balance/sync                Overwrite balance from the economy

  Challenges:
    GET  /challenges                  Current definitions
    GET  /instances                   User's challenge instances
    POST /challenges/{id}/accept      Optimistic accept
    POST /instances/{id}/progress     Local progress reading
    POST /instances/{id}/abandon      Abandon
    POST /refresh                     Pull remote state now

  Journey & events:
    GET  /journey                     Node statuses
    GET  /events/current              The one event to display
    POST /events/{id}/ack             Dismiss it

  Shop:
    GET  /shop                        Items
    POST /shop/{id}/purchase          Optimistic purchase

  Audit:
    GET  /history                     Journal entries
    GET  /notifications               Recent presenter notifications

ERROR HANDLING:
  All errors return ErrorResponse with appropriate HTTP status:
  - 400: Validation (invalid transition, regression, locked node/level)
  - 402: Insufficient funds
  - 404: Unknown user, challenge, instance or item
  - 409: Already active/owned, stale write
  - 503: Remote unavailable (state was rolled back)

SEE ALSO:
  - dto.go:       Request/response structures
  - server.go:    Route definitions
  - simulator.go: Simulated backend controls
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/progression-engine/progression"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Registry *Registry
	Curve    progression.LevelCurve
	Rewards  progression.RewardPolicy
	Logger   *logrus.Entry
}

func NewHandler(registry *Registry, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		Registry: registry,
		Curve:    progression.DefaultLevelCurve,
		Rewards:  progression.DefaultRewardPolicy(),
		Logger:   logger,
	}
}

// backend resolves {user}; on failure it has already written the response.
func (h *Handler) backend(w http.ResponseWriter, r *http.Request) (*Backend, bool) {
	user := progression.UserID(chi.URLParam(r, "user"))
	b, err := h.Registry.Get(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to open session", err)
		return nil, false
	}
	return b, true
}

// =============================================================================
// CHARACTER
// =============================================================================

// GetProgress returns the character.
// GET /api/users/{user}/progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	dto := toProgressDTO(b.Session.Progress(), h.Curve)
	dto.Syncing = b.Session.Busy()
	writeJSON(w, http.StatusOK, dto)
}

// SyncBalance pulls the authoritative balance.
// POST /api/users/{user}/balance/sync
func (h *Handler) SyncBalance(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	balance, err := b.Session.SyncBalance(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to sync balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

// =============================================================================
// CHALLENGES
// =============================================================================

// ListChallenges returns the definitions known after the last refresh.
// GET /api/users/{user}/challenges
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Session.Definitions())
}

// ListInstances returns the user's instances.
// GET /api/users/{user}/instances
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Session.Instances())
}

// AcceptChallenge accepts a definition.
// POST /api/users/{user}/challenges/{id}/accept
func (h *Handler) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	id := progression.DefinitionID(chi.URLParam(r, "id"))
	inst, err := b.Session.AcceptChallenge(r.Context(), id)
	if isOperationError(err) {
		writeEngineError(w, "Failed to accept challenge", err)
		return
	}
	if err != nil {
		h.Logger.WithError(err).Warn("accept confirmed with errors")
	}
	writeJSON(w, http.StatusCreated, inst)
}

// RecordProgress applies a progress reading.
// POST /api/users/{user}/instances/{id}/progress
func (h *Handler) RecordProgress(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	var req RecordProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := progression.InstanceID(chi.URLParam(r, "id"))
	inst, err := b.Session.RecordProgress(r.Context(), id, req.Value)
	if isOperationError(err) {
		writeEngineError(w, "Failed to record progress", err)
		return
	}
	if err != nil {
		h.Logger.WithError(err).Warn("progress recorded with errors")
	}
	writeJSON(w, http.StatusOK, inst)
}

// AbandonChallenge abandons an instance.
// POST /api/users/{user}/instances/{id}/abandon
func (h *Handler) AbandonChallenge(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	id := progression.InstanceID(chi.URLParam(r, "id"))
	inst, err := b.Session.Abandon(r.Context(), id)
	if isOperationError(err) {
		writeEngineError(w, "Failed to abandon challenge", err)
		return
	}
	if err != nil {
		h.Logger.WithError(err).Warn("abandon confirmed with errors")
	}
	writeJSON(w, http.StatusOK, inst)
}

// Refresh pulls remote state immediately (the screen-focus signal).
// POST /api/users/{user}/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	if err := b.Session.Refresh(r.Context()); err != nil {
		writeEngineError(w, "Refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, b.Session.Instances())
}

// =============================================================================
// JOURNEY & EVENTS
// =============================================================================

// GetJourney returns node statuses.
// GET /api/users/{user}/journey
func (h *Handler) GetJourney(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Session.JourneyNodes())
}

// GetCurrentEvent returns the event to display, or null.
// GET /api/users/{user}/events/current
func (h *Handler) GetCurrentEvent(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	var resp CurrentEventResponse
	if ev, ok := b.Session.CurrentEvent(); ok {
		dto := toEventDTO(ev, h.Rewards)
		resp.Event = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// AcknowledgeEvent dismisses the current event.
// POST /api/users/{user}/events/{id}/ack
func (h *Handler) AcknowledgeEvent(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	id := progression.InstanceID(chi.URLParam(r, "id"))
	if err := b.Session.AcknowledgeEvent(r.Context(), id); isOperationError(err) {
		writeEngineError(w, "Failed to acknowledge event", err)
		return
	} else if err != nil {
		h.Logger.WithError(err).Warn("acknowledge confirmed with errors")
	}
	var resp CurrentEventResponse
	if ev, ok := b.Session.CurrentEvent(); ok {
		dto := toEventDTO(ev, h.Rewards)
		resp.Event = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SHOP
// =============================================================================

// ListShop returns shop items.
// GET /api/users/{user}/shop
func (h *Handler) ListShop(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Session.ShopItems())
}

// Purchase buys an item.
// POST /api/users/{user}/shop/{id}/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	id := progression.ItemID(chi.URLParam(r, "id"))
	progress, err := b.Session.Purchase(r.Context(), id)
	if isOperationError(err) {
		writeEngineError(w, "Purchase failed", err)
		return
	}
	if err != nil {
		h.Logger.WithError(err).Warn("purchase confirmed with errors")
	}

	var item progression.InventoryItem
	for _, it := range b.Session.ShopItems() {
		if it.ID == id {
			item = it
			break
		}
	}
	writeJSON(w, http.StatusOK, PurchaseResponse{Item: item, Progress: toProgressDTO(progress, h.Curve)})
}

// =============================================================================
// AUDIT
// =============================================================================

// GetHistory returns the user's journal.
// GET /api/users/{user}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	entries, err := b.Session.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	if entries == nil {
		entries = []progression.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetNotifications returns recent presenter notifications.
// GET /api/users/{user}/notifications
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	b, ok := h.backend(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Presenter.Notifications())
}

// ListUsers returns users with an open session.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Users())
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// isOperationError is true when the operation itself failed. Any other
// error means the change was confirmed but a follow-up step (journal
// write, persistence) had trouble.
func isOperationError(err error) bool {
	return err != nil && (progression.IsValidation(err) ||
		progression.IsNotFound(err) ||
		progression.IsDeclined(err) ||
		progression.IsRecoverable(err))
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status, code := classify(err)
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case progression.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, progression.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.Is(err, progression.ErrAlreadyOwned):
		return http.StatusConflict, "already_owned"
	case progression.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case progression.IsDeclined(err):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, progression.ErrStaleWrite):
		return http.StatusConflict, "stale_write"
	case errors.Is(err, progression.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, "remote_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
