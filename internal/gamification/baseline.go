package gamification

// DefaultBaselineFields are the nightly-recharge metrics tracked against baseline
var DefaultBaselineFields = []string{
	"heart_rate_avg",
	"heart_rate_variability_avg",
	"breathing_rate_avg",
	"beat_to_beat_avg",
}

// FieldBaseline is the mean of one field over the samples that had it
type FieldBaseline struct {
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// ComputeBaseline averages each field across records.
// Missing and non-numeric values are skipped; fields with no samples are omitted.
func ComputeBaseline(records []map[string]any, fields []string) map[string]FieldBaseline {
	out := make(map[string]FieldBaseline, len(fields))
	for _, field := range fields {
		var b FieldBaseline
		sum := 0.0
		for _, rec := range records {
			v, ok := number(rec[field])
			if !ok {
				continue
			}
			if b.Samples == 0 || v < b.Min {
				b.Min = v
			}
			if b.Samples == 0 || v > b.Max {
				b.Max = v
			}
			sum += v
			b.Samples++
		}
		if b.Samples > 0 {
			b.Mean = sum / float64(b.Samples)
			out[field] = b
		}
	}
	return out
}
