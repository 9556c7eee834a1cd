/*
dto.go - Data Transfer Objects for API requests/responses

PURPOSE:
  Defines the JSON structures for API communication. These are separate
  from engine types to allow API evolution independent of the engine, and
  to flatten maps and derived values into client-friendly shapes.

CONVERSION:
  Each DTO has a corresponding conversion function:
  - toProgressDTO(): progression.CharacterProgress → ProgressDTO
  - toEventDTO():    progression.CompletionEvent → EventDTO
*/
package api

import (
	"time"

	"github.com/warp/progression-engine/progression"
)

// =============================================================================
// CHARACTER
// =============================================================================

type ProgressDTO struct {
	TotalXP     int      `json:"total_xp"`
	Level       int      `json:"level"`
	Stage       string   `json:"stage"`
	Balance     int      `json:"balance"`
	OwnedItems  []string `json:"owned_items"`
	NextLevelXP *int     `json:"next_level_xp,omitempty"`

	// Syncing is true while a purchase or reward credit is in flight.
	Syncing bool `json:"syncing"`
}

func toProgressDTO(p progression.CharacterProgress, curve progression.LevelCurve) ProgressDTO {
	dto := ProgressDTO{
		TotalXP:    p.TotalXP,
		Level:      p.Level,
		Stage:      p.Stage.String(),
		Balance:    p.Balance,
		OwnedItems: []string{},
	}
	for _, id := range p.Items() {
		dto.OwnedItems = append(dto.OwnedItems, string(id))
	}
	if curve.MaxLevel == 0 || p.Level < curve.MaxLevel {
		next := curve.XPForLevel(p.Level + 1)
		dto.NextLevelXP = &next
	}
	return dto
}

// =============================================================================
// CHALLENGES
// =============================================================================

type RecordProgressRequest struct {
	Value int `json:"value"`
}

type EventDTO struct {
	InstanceID   string `json:"instance_id"`
	DefinitionID string `json:"definition_id"`
	RewardPoints int    `json:"reward_points"`
	Difficulty   string `json:"difficulty"`
	XP           int    `json:"xp"`
	Currency     int    `json:"currency"`
}

func toEventDTO(ev progression.CompletionEvent, policy progression.RewardPolicy) EventDTO {
	payout := policy.Payout(ev.RewardPoints, ev.Difficulty)
	return EventDTO{
		InstanceID:   string(ev.InstanceID),
		DefinitionID: string(ev.DefinitionID),
		RewardPoints: ev.RewardPoints,
		Difficulty:   string(ev.Difficulty),
		XP:           payout.XP,
		Currency:     payout.Currency,
	}
}

type CurrentEventResponse struct {
	Event *EventDTO `json:"event"`
}

// =============================================================================
// ECONOMY
// =============================================================================

type PurchaseResponse struct {
	Item     progression.InventoryItem `json:"item"`
	Progress ProgressDTO               `json:"progress"`
}

type BalanceResponse struct {
	Balance int `json:"balance"`
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationDTO struct {
	Kind         string    `json:"kind"`
	InstanceID   string    `json:"instance_id,omitempty"`
	DefinitionID string    `json:"definition_id,omitempty"`
	ItemID       string    `json:"item_id,omitempty"`
	At           time.Time `json:"at"`
}

// =============================================================================
// SIMULATOR
// =============================================================================

type ActivityRequest struct {
	ChallengeID string `json:"challenge_id"`
	Amount      int    `json:"amount"`
}

type FaultRequest struct {
	Op    string `json:"op"`
	Times int    `json:"times"`
	Clear bool   `json:"clear"`
}

type RefuseSpendsRequest struct {
	Refuse bool `json:"refuse"`
}

type SetBalanceRequest struct {
	Balance int `json:"balance"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
