package catalog

import "github.com/warp/progression-engine/progression"

// DefaultJourney is a small diamond that fans out from the first walk and
// joins again at Iron Week:
//
//	start ──▶ warmup ──▶ iron
//	  │                   ▲
//	  └────▶ distance ────┘
//	           │
//	           └──▶ half
func DefaultJourney() []progression.NodeDefinition {
	return []progression.NodeDefinition{
		{
			ID:          "start",
			ChallengeID: "first-steps",
			Unlocks:     []progression.NodeID{"warmup", "distance"},
			Position:    progression.Position{X: 0, Y: 0},
		},
		{
			ID:          "warmup",
			ChallengeID: "warmup-streak",
			Position:    progression.Position{X: 1, Y: -1},
		},
		{
			ID:          "distance",
			ChallengeID: "weekly-distance",
			Position:    progression.Position{X: 1, Y: 1},
		},
		{
			ID:            "half",
			ChallengeID:   "half-marathon",
			Prerequisites: []progression.NodeID{"distance"},
			Position:      progression.Position{X: 2, Y: 2},
		},
		{
			ID:            "iron",
			ChallengeID:   "iron-week",
			Prerequisites: []progression.NodeID{"warmup", "distance"},
			Position:      progression.Position{X: 2, Y: 0},
		},
	}
}
