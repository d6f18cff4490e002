package gamification

// CreatureStage is one evolution of the user's companion creature
type CreatureStage struct {
	Stage int    `json:"stage"`
	Name  string `json:"name"`
	MinXP int    `json:"minXp"`
}

var creatureStages = []CreatureStage{
	{Stage: 1, Name: "Egg", MinXP: 0},
	{Stage: 2, Name: "Hatchling", MinXP: 100},
	{Stage: 3, Name: "Sprout", MinXP: 500},
	{Stage: 4, Name: "Runner", MinXP: 1500},
	{Stage: 5, Name: "Champion", MinXP: 3500},
}

// CreatureFor returns the highest stage whose MinXP is reached
func CreatureFor(xp int) CreatureStage {
	current := creatureStages[0]
	for _, s := range creatureStages {
		if xp >= s.MinXP {
			current = s
		}
	}
	return current
}

// NextCreature returns the stage after xp's stage, or nil at the final stage
func NextCreature(xp int) *CreatureStage {
	for i := range creatureStages {
		if creatureStages[i].MinXP > xp {
			s := creatureStages[i]
			return &s
		}
	}
	return nil
}
