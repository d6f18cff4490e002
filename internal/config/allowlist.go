package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"polar-fitness-sync/internal/polar"
)

var validate = validator.New()

// AllowListConfig is the on-disk shape of the field allow-list.
// Each entry is the set of top-level vendor fields that may be persisted.
type AllowListConfig struct {
	Activities          []string `koanf:"activities" validate:"required,min=1,dive,required"`
	Sleep               []string `koanf:"sleep" validate:"required,min=1,dive,required"`
	NightlyRecharge     []string `koanf:"nightlyRecharge" validate:"required,min=1,dive,required"`
	ContinuousHeartRate []string `koanf:"continuousHeartRate" validate:"required,min=1,dive,required"`
	CardioLoad          []string `koanf:"cardioLoad" validate:"required,min=1,dive,required"`
	Exercises           []string `koanf:"exercises" validate:"required,min=1,dive,required"`
	PhysicalInfo        []string `koanf:"physicalInfo" validate:"required,min=1,dive,required"`
}

// DefaultAllowList returns the compiled-in allow-list
func DefaultAllowList() AllowListConfig {
	return AllowListConfig{
		Activities: []string{
			"date", "start_time", "end_time", "active_duration", "inactive_duration",
			"daily_activity", "calories", "active_calories", "steps",
			"inactivity_alert_count", "distance_from_steps",
		},
		Sleep: []string{
			"date", "sleep_start_time", "sleep_end_time", "light_sleep", "deep_sleep",
			"rem_sleep", "unrecognized_sleep_stage", "sleep_score", "continuity",
			"continuity_class", "total_interruption_duration", "sleep_charge",
			"sleep_goal", "sleep_rating", "short_interruption_duration",
			"long_interruption_duration", "sleep_cycles",
		},
		NightlyRecharge: []string{
			"date", "heart_rate_avg", "beat_to_beat_avg", "heart_rate_variability_avg",
			"breathing_rate_avg", "nightly_recharge_status", "ans_charge", "ans_charge_status",
		},
		ContinuousHeartRate: []string{
			"date", "heart_rate_samples",
		},
		CardioLoad: []string{
			"date", "cardio_load_status", "cardio_load", "strain", "tolerance",
			"cardio_load_ratio", "cardio_load_level",
		},
		Exercises: []string{
			"id", "start_time", "start_time_utc_offset", "duration", "calories",
			"distance", "heart_rate", "sport", "detailed_sport_info", "training_load",
		},
		PhysicalInfo: []string{
			"id", "transaction-id", "created", "weight", "height", "maximum-heart-rate",
			"resting-heart-rate", "aerobic-threshold", "anaerobic-threshold", "vo2-max",
			"weight-source",
		},
	}
}

// AllowList maps each category to the set of permitted field names.
type AllowList map[polar.Category]map[string]struct{}

// LoadAllowList builds the allow-list from the compiled defaults, overridden
// per category by the YAML file at path (if non-empty), and validates it.
func LoadAllowList(path string) (AllowList, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultAllowList(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load default allow-list: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load allow-list file %s: %w", path, err)
		}
	}

	known := make(map[string]bool)
	for _, c := range polar.AllCategories {
		known[string(c)] = true
	}
	var unknown []string
	for _, key := range k.Keys() {
		top := strings.SplitN(key, ".", 2)[0]
		if !known[top] {
			unknown = append(unknown, top)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("allow-list has unknown categories: %v", unknown)
	}

	var cfg AllowListConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode allow-list: %w", err)
	}

	return NewAllowList(cfg)
}

// NewAllowList validates cfg and converts it to a lookup table
func NewAllowList(cfg AllowListConfig) (AllowList, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid allow-list: %w", err)
	}

	al := AllowList{
		polar.CategoryActivities:          toSet(cfg.Activities),
		polar.CategorySleep:               toSet(cfg.Sleep),
		polar.CategoryNightlyRecharge:     toSet(cfg.NightlyRecharge),
		polar.CategoryContinuousHeartRate: toSet(cfg.ContinuousHeartRate),
		polar.CategoryCardioLoad:          toSet(cfg.CardioLoad),
		polar.CategoryExercises:           toSet(cfg.Exercises),
		polar.CategoryPhysicalInfo:        toSet(cfg.PhysicalInfo),
	}
	return al, nil
}

// Filter returns a copy of doc holding only the permitted top-level keys.
// Keys outside the list are dropped silently.
func (al AllowList) Filter(category polar.Category, doc map[string]any) map[string]any {
	allowed := al[category]
	out := make(map[string]any, len(allowed))
	for key, value := range doc {
		if _, ok := allowed[key]; ok {
			out[key] = value
		}
	}
	return out
}

func toSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
