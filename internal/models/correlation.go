package models

import "time"

// DelayWindow is a named offset bucket relative to a cause event. An effect
// occurring in [cause+MinOffset, cause+MaxOffset) counts as a hit.
type DelayWindow struct {
	Name      string
	MinOffset time.Duration
	MaxOffset time.Duration
}

// DelayWindows is the fixed, ordered window configuration. Order matters:
// it is the final tie-break when selecting a best window.
var DelayWindows = []DelayWindow{
	{Name: "15m", MinOffset: 0, MaxOffset: 15 * time.Minute},
	{Name: "1h", MinOffset: 15 * time.Minute, MaxOffset: time.Hour},
	{Name: "2-4h", MinOffset: 2 * time.Hour, MaxOffset: 4 * time.Hour},
	{Name: "4-8h", MinOffset: 4 * time.Hour, MaxOffset: 8 * time.Hour},
	{Name: "24h", MinOffset: 8 * time.Hour, MaxOffset: 24 * time.Hour},
}

// WindowScore is the association score for one (cause, effect) pair in one
// delay window. Immutable once produced.
type WindowScore struct {
	Window     string
	Score      float64
	SampleSize int
	PValue     *float64
}

// CorrelationResult summarises one (cause, effect) pair across all windows.
// BestWindow is always an element of WindowScores.
type CorrelationResult struct {
	UserID       string
	CauseID      string
	EffectID     string
	WindowScores []WindowScore
	BestWindow   WindowScore
	SampleSize   int
	ComputedAt   time.Time
}

// CombinationEffect reports a synergistic pair of causes: the joint score
// exceeds the stronger of the two individual scores by SynergyScore.
type CombinationEffect struct {
	CauseIDs         []string
	EffectID         string
	Window           string
	JointScore       float64
	SynergyScore     float64
	IndividualScores []float64
	SampleSize       int
}

// EnhancedResult bundles per-cause correlations with detected combinations.
type EnhancedResult struct {
	UserID       string
	EffectID     string
	Individual   []CorrelationResult
	Combinations []CombinationEffect
	ComputedAt   time.Time
}
