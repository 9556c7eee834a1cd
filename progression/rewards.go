/*
rewards.go - Reward ledger: pure computations over XP and currency

PURPOSE:
  Converts between (TotalXP) and (Level, Stage), credits XP, applies
  currency deltas and turns reward points into an XP/currency payout.
  Nothing here has side effects; callers commit the returned values.

DERIVATION:
  Level and Stage are total functions of TotalXP. Re-deriving after a
  snapshot reload always yields the same result, and crediting +100 twice
  lands on the same level as crediting +200 once.

STAGE TABLE (level lower bounds):
  Rookie 1 | Athlete 30 | Veteran 50 | Champion 80 | Legend 120 (to max 180)

PAYOUT:
  xp       = floor(points * difficulty multiplier)
  currency = floor(points * currency rate)

SEE ALSO:
  - inventory.go: Uses ApplyCurrency for purchases
  - session.go:   Issues payouts on completion events
*/
package progression

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STAGE - Enumerated appearance tier
// =============================================================================

type Stage int

const (
	StageRookie Stage = iota + 1
	StageAthlete
	StageVeteran
	StageChampion
	StageLegend
)

// stageFloors lists the first level of each stage, ascending.
var stageFloors = []struct {
	Stage Stage
	Level int
}{
	{StageRookie, 1},
	{StageAthlete, 30},
	{StageVeteran, 50},
	{StageChampion, 80},
	{StageLegend, 120},
}

// StageForLevel is total: levels below 1 map to Rookie, anything at or
// above 120 maps to Legend.
func StageForLevel(level int) Stage {
	stage := StageRookie
	for _, f := range stageFloors {
		if level >= f.Level {
			stage = f.Stage
		}
	}
	return stage
}

func (s Stage) String() string {
	switch s {
	case StageRookie:
		return "rookie"
	case StageAthlete:
		return "athlete"
	case StageVeteran:
		return "veteran"
	case StageChampion:
		return "champion"
	case StageLegend:
		return "legend"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText encodes the zero Stage (not yet derived) as "".
func (s Stage) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if s < StageRookie || s > StageLegend {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = 0
		return nil
	}
	for st := StageRookie; st <= StageLegend; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}

// =============================================================================
// LEVEL CURVE
// =============================================================================

type LevelCurve struct {
	XPPerLevel int
	MaxLevel   int
}

var DefaultLevelCurve = LevelCurve{XPPerLevel: 100, MaxLevel: 180}

func (c LevelCurve) LevelForXP(xp int) int {
	if xp < 0 || c.XPPerLevel <= 0 {
		return 1
	}
	level := 1 + xp/c.XPPerLevel
	if c.MaxLevel > 0 && level > c.MaxLevel {
		level = c.MaxLevel
	}
	return level
}

// XPForLevel returns the cumulative XP at which level is reached.
func (c LevelCurve) XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	if c.MaxLevel > 0 && level > c.MaxLevel {
		level = c.MaxLevel
	}
	return (level - 1) * c.XPPerLevel
}

func (c LevelCurve) derive(p CharacterProgress) CharacterProgress {
	p.Level = c.LevelForXP(p.TotalXP)
	p.Stage = StageForLevel(p.Level)
	return p
}

// Derive recomputes Level and Stage from TotalXP.
func (c LevelCurve) Derive(p CharacterProgress) CharacterProgress {
	return c.derive(p)
}

// =============================================================================
// XP AND CURRENCY
// =============================================================================

type XPResult struct {
	Progress     CharacterProgress
	LeveledUp    bool
	StageChanged bool
}

// ApplyXP credits delta XP. A negative delta fails and returns p unchanged.
func (c LevelCurve) ApplyXP(p CharacterProgress, delta int) (XPResult, error) {
	if delta < 0 {
		return XPResult{Progress: p}, fmt.Errorf("apply xp %d: %w", delta, ErrNegativeXP)
	}
	before := c.derive(p)
	after := before.Clone()
	after.TotalXP += delta
	after = c.derive(after)
	return XPResult{
		Progress:     after,
		LeveledUp:    after.Level > before.Level || after.Stage > before.Stage,
		StageChanged: after.Stage != before.Stage,
	}, nil
}

// ApplyXP uses DefaultLevelCurve.
func ApplyXP(p CharacterProgress, delta int) (XPResult, error) {
	return DefaultLevelCurve.ApplyXP(p, delta)
}

// ApplyCurrency adds delta (which may be negative) to the balance.
// A negative result fails with *InsufficientFundsError; p is returned
// unchanged and must not be committed.
func ApplyCurrency(p CharacterProgress, delta int) (CharacterProgress, error) {
	next := p.Balance + delta
	if next < 0 {
		return p, &InsufficientFundsError{
			Balance:   p.Balance,
			Requested: -delta,
			Shortfall: -next,
		}
	}
	out := p.Clone()
	out.Balance = next
	return out, nil
}

// =============================================================================
// REWARD POLICY - Points to payout
// =============================================================================

type Payout struct {
	XP       int `json:"xp"`
	Currency int `json:"currency"`
}

type RewardPolicy struct {
	XPMultiplier map[Difficulty]decimal.Decimal
	CurrencyRate decimal.Decimal
}

func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		XPMultiplier: map[Difficulty]decimal.Decimal{
			DifficultyEasy:   decimal.NewFromInt(1),
			DifficultyMedium: decimal.RequireFromString("1.25"),
			DifficultyHard:   decimal.RequireFromString("1.5"),
		},
		CurrencyRate: decimal.RequireFromString("0.5"),
	}
}

// Payout converts reward points. Unknown difficulties use a 1x multiplier.
func (rp RewardPolicy) Payout(points int, difficulty Difficulty) Payout {
	if points <= 0 {
		return Payout{}
	}
	pts := decimal.NewFromInt(int64(points))
	mult, ok := rp.XPMultiplier[difficulty]
	if !ok {
		mult = decimal.NewFromInt(1)
	}
	return Payout{
		XP:       int(pts.Mul(mult).Floor().IntPart()),
		Currency: int(pts.Mul(rp.CurrencyRate).Floor().IntPart()),
	}
}

// Credit applies a payout to p. XP and currency are applied together.
func (c LevelCurve) Credit(p CharacterProgress, payout Payout) (XPResult, error) {
	res, err := c.ApplyXP(p, payout.XP)
	if err != nil {
		return XPResult{Progress: p}, err
	}
	withCoins, err := ApplyCurrency(res.Progress, payout.Currency)
	if err != nil {
		return XPResult{Progress: p}, err
	}
	res.Progress = withCoins
	return res, nil
}
