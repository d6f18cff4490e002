package gamification

import (
	"sort"
	"time"
)

// Profile counter names
const (
	MetricXP            = "xp"
	MetricTotalWorkouts = "totalWorkouts"
	MetricTotalCalories = "totalCalories"
	MetricTotalDistance = "totalDistance"
	MetricTotalDuration = "totalDuration"
	MetricStreakDays    = "streakDays"
)

// Profile is a read-only snapshot of a user's cumulative counters
type Profile map[string]float64

// Definition describes one achievement
type Definition struct {
	ID        string
	Title     string
	Metric    string
	Threshold float64
	Points    int
}

// Progress is the stored state of one achievement for one user.
// Once unlocked it is never re-locked and UnlockedAt never changes.
type Progress struct {
	Progress      float64    `json:"progress"`
	Unlocked      bool       `json:"unlocked"`
	UnlockedAt    *time.Time `json:"unlockedAt,omitempty"`
	PointsAwarded bool       `json:"pointsAwarded,omitempty"`
}

// DefaultDefinitions is the achievement catalogue
var DefaultDefinitions = []Definition{
	{ID: "first_workout", Title: "First Steps", Metric: MetricTotalWorkouts, Threshold: 1, Points: 10},
	{ID: "ten_workouts", Title: "Getting Serious", Metric: MetricTotalWorkouts, Threshold: 10, Points: 50},
	{ID: "fifty_workouts", Title: "Dedicated", Metric: MetricTotalWorkouts, Threshold: 50, Points: 200},
	{ID: "calories_5k", Title: "Furnace", Metric: MetricTotalCalories, Threshold: 5000, Points: 50},
	{ID: "calories_50k", Title: "Inferno", Metric: MetricTotalCalories, Threshold: 50000, Points: 250},
	{ID: "distance_42k", Title: "Marathoner", Metric: MetricTotalDistance, Threshold: 42195, Points: 100},
	{ID: "duration_24h", Title: "Day Well Spent", Metric: MetricTotalDuration, Threshold: 86400, Points: 100},
	{ID: "streak_7", Title: "Week Streak", Metric: MetricStreakDays, Threshold: 7, Points: 70},
	{ID: "streak_30", Title: "Month Streak", Metric: MetricStreakDays, Threshold: 30, Points: 300},
}

// ComputeAchievements derives progress for every definition from profile.
// progress = min(value, threshold); unlocked = previously unlocked or value >= threshold.
// UnlockedAt is stamped with now only on the locked to unlocked transition.
// Recomputing with an unchanged profile yields identical results.
func ComputeAchievements(profile Profile, defs []Definition, previous map[string]Progress, now time.Time) map[string]Progress {
	out := make(map[string]Progress, len(defs))
	for _, def := range defs {
		value := profile[def.Metric]
		prev, hadPrev := previous[def.ID]

		p := Progress{
			Progress:      min(value, def.Threshold),
			Unlocked:      prev.Unlocked || value >= def.Threshold,
			PointsAwarded: prev.PointsAwarded,
		}
		if hadPrev && prev.Progress > p.Progress {
			p.Progress = prev.Progress
		}

		switch {
		case prev.Unlocked && prev.UnlockedAt != nil:
			at := *prev.UnlockedAt
			p.UnlockedAt = &at
		case p.Unlocked:
			at := now
			p.UnlockedAt = &at
		}

		out[def.ID] = p
	}
	return out
}

// NewlyUnlocked returns the ids unlocked in next but not in previous, sorted
func NewlyUnlocked(previous, next map[string]Progress) []string {
	var ids []string
	for id, p := range next {
		if p.Unlocked && !previous[id].Unlocked {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
