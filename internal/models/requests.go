package models

import (
	"fmt"
	"time"
)

// TimeRange bounds the event window for a computation.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validate reports a precondition violation when the range is malformed.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("time range start and end are required")
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("time range end must be after start")
	}
	return nil
}

// Tag returns a stable cache-key component for the range.
func (r TimeRange) Tag() string {
	return fmt.Sprintf("%d-%d", r.Start.UnixMilli(), r.End.UnixMilli())
}

// TrailingRange returns the range covering the last d up to now.
func TrailingRange(now time.Time, d time.Duration) TimeRange {
	return TimeRange{Start: now.Add(-d), End: now}
}

// Pair identifies one (cause, effect) correlation request.
type Pair struct {
	CauseID  string
	EffectID string
}

// Key renders the pair as a stable identifier for error reporting.
func (p Pair) Key() string {
	return p.CauseID + ":" + p.EffectID
}

// CorrelationRequest captures a single-pair computation call.
type CorrelationRequest struct {
	UserID        string
	Pair          Pair
	TimeRange     TimeRange
	MinSampleSize int
}

// EnhancedRequest captures a computeWithCombinations call.
type EnhancedRequest struct {
	UserID        string
	EffectID      string
	TimeRange     TimeRange
	MinSampleSize int
	MaxPairs      int
	MinSynergy    float64
}

// BatchResult aggregates per-pair outcomes; a failed pair never aborts its
// siblings, it lands in Errors keyed by Pair.Key(). Computed counts pairs
// that missed the cache and were freshly calculated.
type BatchResult struct {
	Results  []CorrelationResult
	Errors   map[string]string
	Computed int
}

// BatchSummary reports a full scheduled recalculation run.
type BatchSummary struct {
	UsersProcessed        int
	PairsComputed         int
	CacheEntriesCreated   int
	ExpiredEntriesCleaned int
	Errors                []string
	Duration              time.Duration
}
