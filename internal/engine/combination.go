package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

const (
	// DefaultMaxPairs bounds the candidate combination set per run.
	DefaultMaxPairs = 50
	// DefaultMinSynergy is the reporting threshold for synergy scores.
	DefaultMinSynergy = 0.1
)

// Detector extends pairwise correlation with combination effects: two causes
// logged in the same meal whose joint score beats either alone.
type Detector struct {
	logger   *slog.Logger
	computer *Computer
}

// NewDetector constructs a Detector delegating per-cause scoring to computer.
func NewDetector(logger *slog.Logger, computer *Computer) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger, computer: computer}
}

type causePair struct {
	a, b string
}

// ComputeWithCombinations scores every distinct cause observed in range
// against the effect, then tests co-occurring cause pairs for synergy.
// Events are fetched once; individual and joint scores share the fetch.
func (d *Detector) ComputeWithCombinations(ctx context.Context, req models.EnhancedRequest) (models.EnhancedResult, error) {
	if d.computer == nil || d.computer.source == nil {
		return models.EnhancedResult{}, fmt.Errorf("event source not configured")
	}
	if req.UserID == "" {
		return models.EnhancedResult{}, fmt.Errorf("user id is required")
	}
	if req.EffectID == "" {
		return models.EnhancedResult{}, fmt.Errorf("effect id is required")
	}
	if err := req.TimeRange.Validate(); err != nil {
		return models.EnhancedResult{}, err
	}
	minSample := req.MinSampleSize
	if minSample <= 0 {
		minSample = DefaultMinSampleSize
	}
	maxPairs := req.MaxPairs
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	minSynergy := req.MinSynergy
	if minSynergy <= 0 {
		minSynergy = DefaultMinSynergy
	}

	source := d.computer.source
	foods, err := source.FetchFoodEvents(ctx, req.UserID, req.TimeRange.Start, req.TimeRange.End)
	if err != nil {
		return models.EnhancedResult{}, fmt.Errorf("fetch food events: %w", err)
	}
	triggers, err := source.FetchTriggerEvents(ctx, req.UserID, req.TimeRange.Start, req.TimeRange.End)
	if err != nil {
		return models.EnhancedResult{}, fmt.Errorf("fetch trigger events: %w", err)
	}
	medications, err := source.FetchMedicationEvents(ctx, req.UserID, req.TimeRange.Start, req.TimeRange.End)
	if err != nil {
		return models.EnhancedResult{}, fmt.Errorf("fetch medication events: %w", err)
	}
	effectTimes, err := d.computer.effectOccurrences(ctx, req.UserID, req.EffectID, req.TimeRange)
	if err != nil {
		return models.EnhancedResult{}, fmt.Errorf("fetch effect events: %w", err)
	}

	// Chronological order keeps cause discovery and pair capping deterministic.
	sort.SliceStable(foods, func(i, j int) bool { return foods[i].Timestamp.Before(foods[j].Timestamp) })
	sort.SliceStable(triggers, func(i, j int) bool { return triggers[i].Timestamp.Before(triggers[j].Timestamp) })
	sort.SliceStable(medications, func(i, j int) bool { return medications[i].Timestamp.Before(medications[j].Timestamp) })

	occurrences := make(map[string][]time.Time)
	causeOrder := make([]string, 0)
	observe := func(causeID string, ts time.Time) {
		key := strings.ToLower(causeID)
		if _, seen := occurrences[key]; !seen {
			causeOrder = append(causeOrder, key)
		}
		occurrences[key] = append(occurrences[key], ts)
	}
	for _, event := range foods {
		for _, foodID := range event.FoodIDs {
			observe(foodID, event.Timestamp)
		}
	}
	for _, event := range triggers {
		observe(event.TriggerID, event.Timestamp)
	}
	for _, event := range medications {
		observe(event.MedicationID, event.Timestamp)
	}

	individual := make([]models.CorrelationResult, 0, len(causeOrder))
	bestByC := make(map[string]float64, len(causeOrder))
	for _, causeID := range causeOrder {
		result := d.computer.fromOccurrences(
			req.UserID,
			models.Pair{CauseID: causeID, EffectID: req.EffectID},
			append([]time.Time(nil), occurrences[causeID]...),
			effectTimes,
			minSample,
		)
		individual = append(individual, result)
		bestByC[causeID] = result.BestWindow.Score
	}

	pairs := d.candidatePairs(foods, maxPairs)
	combinations := make([]models.CombinationEffect, 0)
	for _, pair := range pairs {
		jointTimes := jointOccurrences(foods, pair.a, pair.b)
		joint := d.computer.fromOccurrences(
			req.UserID,
			models.Pair{CauseID: pair.a + "+" + pair.b, EffectID: req.EffectID},
			jointTimes,
			effectTimes,
			minSample,
		)
		if joint.BestWindow.SampleSize < minSample {
			continue
		}
		individualBest := bestByC[pair.a]
		if bestByC[pair.b] > individualBest {
			individualBest = bestByC[pair.b]
		}
		synergy := joint.BestWindow.Score - individualBest
		if synergy < minSynergy {
			continue
		}
		combinations = append(combinations, models.CombinationEffect{
			CauseIDs:         []string{pair.a, pair.b},
			EffectID:         req.EffectID,
			Window:           joint.BestWindow.Window,
			JointScore:       joint.BestWindow.Score,
			SynergyScore:     synergy,
			IndividualScores: []float64{bestByC[pair.a], bestByC[pair.b]},
			SampleSize:       joint.BestWindow.SampleSize,
		})
	}

	d.logger.Debug("combination detection finished",
		slog.Int("causes", len(causeOrder)),
		slog.Int("pairs_tested", len(pairs)),
		slog.Int("combinations", len(combinations)))

	return models.EnhancedResult{
		UserID:       req.UserID,
		EffectID:     req.EffectID,
		Individual:   individual,
		Combinations: combinations,
		ComputedAt:   d.computer.now().UTC(),
	}, nil
}

// candidatePairs walks meals chronologically collecting distinct co-occurring
// food pairs. Pairs past the cap are dropped earliest-discovered-first kept,
// so repeated runs over the same journal test the same candidates.
func (d *Detector) candidatePairs(foods []models.FoodEvent, maxPairs int) []causePair {
	seen := make(map[causePair]struct{})
	pairs := make([]causePair, 0)
	for _, event := range foods {
		ids := uniqueFold(event.FoodIDs)
		for i := 0; i < len(ids) && len(pairs) < maxPairs; i++ {
			for j := i + 1; j < len(ids) && len(pairs) < maxPairs; j++ {
				pair := orderedPair(ids[i], ids[j])
				if _, ok := seen[pair]; ok {
					continue
				}
				seen[pair] = struct{}{}
				pairs = append(pairs, pair)
			}
		}
		if len(pairs) >= maxPairs {
			break
		}
	}
	return pairs
}

func jointOccurrences(foods []models.FoodEvent, a, b string) []time.Time {
	times := make([]time.Time, 0)
	for _, event := range foods {
		if containsFold(event.FoodIDs, a) && containsFold(event.FoodIDs, b) {
			times = append(times, event.Timestamp)
		}
	}
	return times
}

func orderedPair(a, b string) causePair {
	if b < a {
		a, b = b, a
	}
	return causePair{a: a, b: b}
}

func uniqueFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
