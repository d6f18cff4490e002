package gamification

import "fmt"

// FormatSleepGoalDiff describes how far actual sleep was from the goal.
// Differences under a minute read as "Goal achieved".
func FormatSleepGoalDiff(actualSeconds, goalSeconds int) string {
	diff := actualSeconds - goalSeconds
	abs := diff
	if abs < 0 {
		abs = -abs
	}

	hours := abs / 3600
	minutes := (abs % 3600) / 60
	if hours == 0 && minutes == 0 {
		return "Goal achieved"
	}

	var amount string
	switch {
	case hours > 0 && minutes > 0:
		amount = fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		amount = fmt.Sprintf("%dh", hours)
	default:
		amount = fmt.Sprintf("%dm", minutes)
	}

	if diff > 0 {
		return "Exceeded by " + amount
	}
	return amount + " to goal"
}

// sleepStageFields sum to the time actually asleep, in seconds
var sleepStageFields = []string{"light_sleep", "deep_sleep", "rem_sleep"}

// SleepDuration returns seconds asleep and the goal from a sleep record.
// ok is false when the record lacks either.
func SleepDuration(record map[string]any) (actual, goal int, ok bool) {
	found := false
	for _, field := range sleepStageFields {
		if v, isNum := number(record[field]); isNum {
			actual += int(v)
			found = true
		}
	}
	g, hasGoal := number(record["sleep_goal"])
	if !found || !hasGoal {
		return 0, 0, false
	}
	return actual, int(g), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
