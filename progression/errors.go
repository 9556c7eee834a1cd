/*
errors.go - Centralized error types for the progression engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on the sentinels with errors.Is and read details from the
  structured errors with errors.As.

ERROR CATEGORIES:
  1. Validation errors - Caller bugs, surfaced synchronously, never sent to
     the remote and never routed through rollback
  2. Declined outcomes - Expected business results (insufficient funds)
  3. Recoverable errors - Remote failures; trigger rollback, offer retry

SEE ALSO:
  - optimistic.go: Rolls back on recoverable errors
  - session.go:    Classifies remote failures
*/
package progression

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyActive is returned when accepting a definition that already
	// has an ACCEPTED or ACTIVE instance.
	ErrAlreadyActive = errors.New("challenge already active")

	// ErrAlreadyOwned is returned when purchasing an item that is owned.
	ErrAlreadyOwned = errors.New("item already owned")

	// ErrInsufficientFunds is returned when a balance change would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidGraph is returned when a journey definition is malformed.
	ErrInvalidGraph = errors.New("invalid journey graph")

	// ErrProgressRegression is returned when new progress is below current.
	ErrProgressRegression = errors.New("progress regression")

	// ErrRemoteUnavailable covers network failures and timeouts.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrStaleWrite is returned when the remote rejects a write because its
	// state has advanced past the client's assumption.
	ErrStaleWrite = errors.New("stale write")

	ErrNegativeXP        = errors.New("negative xp delta")
	ErrInvalidTransition = errors.New("invalid challenge transition")
	ErrOutsideWindow     = errors.New("challenge outside validity window")
	ErrNodeLocked        = errors.New("journey node locked")
	ErrLevelLocked       = errors.New("item requires a higher level")
	ErrUnknownChallenge  = errors.New("unknown challenge definition")
	ErrUnknownInstance   = errors.New("unknown challenge instance")
	ErrUnknownItem       = errors.New("unknown item")

	// ErrKeyNotFound is returned by KVStore.Get for missing keys.
	ErrKeyNotFound = errors.New("key not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	Balance   int
	Requested int
	Shortfall int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, requested %d, shortfall %d",
		e.Balance, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

type AlreadyActiveError struct {
	DefinitionID DefinitionID
	InstanceID   InstanceID
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("challenge %s already active as %s", e.DefinitionID, e.InstanceID)
}

func (e *AlreadyActiveError) Unwrap() error {
	return ErrAlreadyActive
}

type ProgressRegressionError struct {
	InstanceID InstanceID
	Current    int
	Attempted  int
}

func (e *ProgressRegressionError) Error() string {
	return fmt.Sprintf("progress regression on %s: current %d, attempted %d",
		e.InstanceID, e.Current, e.Attempted)
}

func (e *ProgressRegressionError) Unwrap() error {
	return ErrProgressRegression
}

// TransitionError names the rejected edge of the state machine.
type TransitionError struct {
	InstanceID InstanceID
	From       ChallengeStatus
	To         ChallengeStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("challenge %s: cannot move from %s to %s", e.InstanceID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// InvalidGraphError describes a journey configuration error.
// Cycle is set when the prerequisite edges do not form a DAG.
type InvalidGraphError struct {
	Reason string
	Nodes  []NodeID
	Cycle  bool
}

func (e *InvalidGraphError) Error() string {
	if len(e.Nodes) == 0 {
		return fmt.Sprintf("invalid journey graph: %s", e.Reason)
	}
	return fmt.Sprintf("invalid journey graph: %s %v", e.Reason, e.Nodes)
}

func (e *InvalidGraphError) Unwrap() error {
	return ErrInvalidGraph
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for caller bugs that must never reach the remote.
func IsValidation(err error) bool {
	return errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrAlreadyOwned) ||
		errors.Is(err, ErrProgressRegression) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrNegativeXP) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOutsideWindow) ||
		errors.Is(err, ErrNodeLocked) ||
		errors.Is(err, ErrLevelLocked)
}

// IsDeclined returns true for expected business outcomes.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsRecoverable returns true if the action may succeed on retry.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrStaleWrite)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownChallenge) ||
		errors.Is(err, ErrUnknownInstance) ||
		errors.Is(err, ErrUnknownItem)
}

// remoteError classifies a failure returned by a remote collaborator.
// Stale writes keep their identity; everything else is unavailability.
func remoteError(op string, err error) error {
	if errors.Is(err, ErrStaleWrite) || errors.Is(err, ErrRemoteUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrRemoteUnavailable, err)
}
