package gamification

// Reward is one rung of the XP ladder
type Reward struct {
	Threshold int    `json:"threshold"`
	Name      string `json:"name"`
}

// MaxXP is the XP at which progress is complete
const MaxXP = 5000

// DefaultRewardLadder is ordered by increasing threshold
var DefaultRewardLadder = []Reward{
	{Threshold: 100, Name: "Bronze Badge"},
	{Threshold: 250, Name: "Custom Avatar Frame"},
	{Threshold: 500, Name: "Silver Badge"},
	{Threshold: 1000, Name: "Creature Accessory"},
	{Threshold: 2000, Name: "Gold Badge"},
	{Threshold: 3500, Name: "Legendary Theme"},
	{Threshold: 5000, Name: "Platinum Badge"},
}

// NextReward returns the first reward whose threshold exceeds xp, or nil
func NextReward(xp int, ladder []Reward) *Reward {
	for i := range ladder {
		if ladder[i].Threshold > xp {
			r := ladder[i]
			return &r
		}
	}
	return nil
}

// ProgressFraction returns xp/max clamped to [0,1]
func ProgressFraction(xp, max int) float64 {
	if max <= 0 {
		return 1
	}
	f := float64(xp) / float64(max)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Level is the number of ladder rungs reached, starting at 1
func Level(xp int, ladder []Reward) int {
	level := 1
	for _, r := range ladder {
		if xp >= r.Threshold {
			level++
		}
	}
	return level
}

// UnlockedRewards returns the rewards at or below xp
func UnlockedRewards(xp int, ladder []Reward) []Reward {
	out := []Reward{}
	for _, r := range ladder {
		if xp >= r.Threshold {
			out = append(out, r)
		}
	}
	return out
}
