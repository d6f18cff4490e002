package polar

// Category is one kind of data synced per date
type Category string

const (
	CategoryActivities          Category = "activities"
	CategorySleep               Category = "sleep"
	CategoryNightlyRecharge     Category = "nightlyRecharge"
	CategoryContinuousHeartRate Category = "continuousHeartRate"
	CategoryCardioLoad          Category = "cardioLoad"
	CategoryExercises           Category = "exercises"
	CategoryPhysicalInfo        Category = "physicalInfo"
)

// AllCategories lists every category in sync order
var AllCategories = []Category{
	CategoryActivities,
	CategorySleep,
	CategoryNightlyRecharge,
	CategoryContinuousHeartRate,
	CategoryCardioLoad,
	CategoryExercises,
	CategoryPhysicalInfo,
}

// dailyPaths maps date-addressed categories to their AccessLink resource
var dailyPaths = map[Category]string{
	CategoryActivities:          "/users/activities/",
	CategorySleep:               "/users/sleep/",
	CategoryNightlyRecharge:     "/users/nightly-recharge/",
	CategoryContinuousHeartRate: "/users/continuous-heart-rate/",
	CategoryCardioLoad:          "/users/cardio-load/",
}

// ParseCategory returns the category named s
func ParseCategory(s string) (Category, bool) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
