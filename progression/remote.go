package progression

import "context"

// =============================================================================
// REMOTE COLLABORATORS - Synchronous request/response
// =============================================================================

// ChallengeService is the authoritative progress source. ListActive is
// polled on a fixed interval and on screen focus.
type ChallengeService interface {
	ListDaily(ctx context.Context) ([]ChallengeDefinition, error)
	Accept(ctx context.Context, id DefinitionID) (ChallengeInstance, error)
	ListActive(ctx context.Context) ([]ChallengeInstance, error)
}

type SpendResult struct {
	Success    bool `json:"success"`
	NewBalance int  `json:"new_balance"`
}

type EconomyService interface {
	GetBalance(ctx context.Context) (int, error)
	// Spend returns Success=false when the server-side balance cannot
	// cover amount; the engine treats that as a stale write.
	Spend(ctx context.Context, amount int, reason string) (SpendResult, error)
}
