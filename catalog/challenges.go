/*
Package catalog provides the fitness content the engine runs on.

PURPOSE:
  Ready-to-use challenge definitions, shop items and a default journey,
  plus a YAML loader so operators can ship their own catalog without a
  rebuild. Nothing here holds state; every function returns fresh values.

AVAILABLE CHALLENGES:
  Daily (window: the current UTC day):
    daily-steps       10,000 steps        easy     auto-enroll
    daily-workout     1 workout           medium
    daily-minutes     30 active minutes   easy

  Weekly (window: Monday to Monday, UTC):
    weekly-distance   25 km               medium
    weekly-calories   3,500 kcal          hard

  Special (no window):
    first-steps       1,000 steps         easy
    warmup-streak     3 workouts          easy
    half-marathon     21 km               hard
    iron-week         7 workouts          hard

EXAMPLE:
  defs := catalog.DefaultChallenges(time.Now())
  shop, _ := progression.NewShop(catalog.DefaultItems())
  journey, _ := progression.NewJourney(catalog.DefaultJourney())

SEE ALSO:
  - shop.go:    Shop items
  - journey.go: Default journey
  - yaml.go:    YAML loader
*/
package catalog

import (
	"time"

	"github.com/warp/progression-engine/progression"
)

// DayWindow returns the UTC day containing t.
func DayWindow(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns the UTC week (Monday start) containing t.
func WeekWindow(t time.Time) (start, end time.Time) {
	day, _ := DayWindow(t)
	offset := (int(day.Weekday()) + 6) % 7
	start = day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

// DefaultChallenges returns the built-in catalog with daily and weekly
// windows anchored on now.
func DefaultChallenges(now time.Time) []progression.ChallengeDefinition {
	dayStart, dayEnd := DayWindow(now)
	weekStart, weekEnd := WeekWindow(now)

	daily := func(d progression.ChallengeDefinition) progression.ChallengeDefinition {
		d.Category = progression.CategoryDaily
		d.StartsAt, d.EndsAt = dayStart, dayEnd
		return d
	}
	weekly := func(d progression.ChallengeDefinition) progression.ChallengeDefinition {
		d.Category = progression.CategoryWeekly
		d.StartsAt, d.EndsAt = weekStart, weekEnd
		return d
	}
	special := func(d progression.ChallengeDefinition) progression.ChallengeDefinition {
		d.Category = progression.CategorySpecial
		return d
	}

	return []progression.ChallengeDefinition{
		daily(progression.ChallengeDefinition{
			ID:           "daily-steps",
			Name:         "Daily Steps",
			Description:  "Walk 10,000 steps today",
			Objective:    progression.ObjectiveSteps,
			Target:       10000,
			Unit:         "steps",
			RewardPoints: 50,
			Difficulty:   progression.DifficultyEasy,
			AutoEnroll:   true,
		}),
		daily(progression.ChallengeDefinition{
			ID:           "daily-workout",
			Name:         "Daily Workout",
			Description:  "Log one workout today",
			Objective:    progression.ObjectiveWorkouts,
			Target:       1,
			Unit:         "workouts",
			RewardPoints: 80,
			Difficulty:   progression.DifficultyMedium,
		}),
		daily(progression.ChallengeDefinition{
			ID:           "daily-minutes",
			Name:         "Move 30",
			Description:  "Be active for 30 minutes",
			Objective:    progression.ObjectiveMinutes,
			Target:       30,
			Unit:         "min",
			RewardPoints: 40,
			Difficulty:   progression.DifficultyEasy,
		}),
		weekly(progression.ChallengeDefinition{
			ID:           "weekly-distance",
			Name:         "25k Week",
			Description:  "Cover 25 km this week",
			Objective:    progression.ObjectiveDistance,
			Target:       25,
			Unit:         "km",
			RewardPoints: 200,
			Difficulty:   progression.DifficultyMedium,
		}),
		weekly(progression.ChallengeDefinition{
			ID:           "weekly-calories",
			Name:         "Burn Week",
			Description:  "Burn 3,500 active calories this week",
			Objective:    progression.ObjectiveCalories,
			Target:       3500,
			Unit:         "kcal",
			RewardPoints: 300,
			Difficulty:   progression.DifficultyHard,
		}),
		special(progression.ChallengeDefinition{
			ID:           "first-steps",
			Name:         "First Steps",
			Description:  "Walk your first 1,000 steps",
			Objective:    progression.ObjectiveSteps,
			Target:       1000,
			Unit:         "steps",
			RewardPoints: 100,
			Difficulty:   progression.DifficultyEasy,
		}),
		special(progression.ChallengeDefinition{
			ID:           "warmup-streak",
			Name:         "Warm-up Streak",
			Description:  "Complete 3 workouts",
			Objective:    progression.ObjectiveWorkouts,
			Target:       3,
			Unit:         "workouts",
			RewardPoints: 150,
			Difficulty:   progression.DifficultyEasy,
		}),
		special(progression.ChallengeDefinition{
			ID:           "half-marathon",
			Name:         "Half Marathon",
			Description:  "Run 21 km in total",
			Objective:    progression.ObjectiveDistance,
			Target:       21,
			Unit:         "km",
			RewardPoints: 400,
			Difficulty:   progression.DifficultyHard,
		}),
		special(progression.ChallengeDefinition{
			ID:           "iron-week",
			Name:         "Iron Week",
			Description:  "Complete 7 workouts",
			Objective:    progression.ObjectiveWorkouts,
			Target:       7,
			Unit:         "workouts",
			RewardPoints: 500,
			Difficulty:   progression.DifficultyHard,
		}),
	}
}
