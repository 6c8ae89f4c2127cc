package model

import "time"

// ScoringModel is a versioned, immutable weight vector. Exactly one model
// is active at a time.
type ScoringModel struct {
	ID        string             `json:"id" db:"id"`
	Version   int                `json:"version" db:"version"`
	Weights   map[string]float64 `json:"weights" db:"weights"`
	Active    bool               `json:"active" db:"active"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}

// ScoreMetadata records how a score was produced.
type ScoreMetadata struct {
	Imputed  map[string]float64 `json:"imputed,omitempty"`
	Priority string             `json:"priority,omitempty"`
	Strategy string             `json:"strategy,omitempty"`
}

// DynamicScore is one append-only evaluation of a prospect under a model version.
type DynamicScore struct {
	ProspectID   string        `json:"prospect_id" db:"prospect_id"`
	ModelVersion int           `json:"model_version" db:"model_version"`
	Score        float64       `json:"score" db:"score"`
	Metadata     ScoreMetadata `json:"metadata" db:"metadata"`
	ComputedAt   time.Time     `json:"computed_at" db:"computed_at"`
}

// AdaptiveWeight is the live, learner-owned value of one feature weight.
type AdaptiveWeight struct {
	Name           string    `json:"weight_name" db:"weight_name"`
	Value          float64   `json:"value" db:"value"`
	Min            float64   `json:"min_value" db:"min_value"`
	Max            float64   `json:"max_value" db:"max_value"`
	LastAdjustedAt time.Time `json:"last_adjusted_at" db:"last_adjusted_at"`
}

// Clamp bounds v to the weight's configured range.
func (w AdaptiveWeight) Clamp(v float64) float64 {
	if v < w.Min {
		return w.Min
	}
	if v > w.Max {
		return w.Max
	}
	return v
}

// ConversionPattern is the observed vs. predicted conversion for one feature bucket.
type ConversionPattern struct {
	Dimension     string    `json:"dimension" db:"dimension"`
	Bucket        string    `json:"bucket" db:"bucket"`
	SampleSize    int       `json:"sample_size" db:"sample_size"`
	Conversions   int       `json:"conversions" db:"conversions"`
	ObservedRate  float64   `json:"observed_conversion_rate" db:"observed_rate"`
	PredictedRate float64   `json:"predicted_conversion_rate" db:"predicted_rate"`
	ComputedAt    time.Time `json:"computed_at" db:"computed_at"`
}

// FeatureBucket returns the "dimension:bucket" key.
func (c ConversionPattern) FeatureBucket() string {
	return c.Dimension + ":" + c.Bucket
}

// OptimizationLogEntry is the append-only record of a single weight adjustment.
type OptimizationLogEntry struct {
	ID          string    `json:"id" db:"id"`
	WeightName  string    `json:"weight_name" db:"weight_name"`
	OldValue    float64   `json:"old_value" db:"old_value"`
	NewValue    float64   `json:"new_value" db:"new_value"`
	Reason      string    `json:"reason" db:"reason"`
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
}

// ConversionSample is one contacted prospect with its outcome, used by the learner.
type ConversionSample struct {
	ProspectID    string             `db:"prospect_id"`
	Industry      string             `db:"industry"`
	Region        string             `db:"region"`
	EmployeeCount *int               `db:"employee_count"`
	Features      map[string]float64 `db:"features"`
	Score         float64            `db:"score"`
	Converted     bool               `db:"converted"`
}
