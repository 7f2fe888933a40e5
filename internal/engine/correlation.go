package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

// EventSource defines the event-journal reads required by the engine.
// Implementations may return events in any order; the engine sorts.
type EventSource interface {
	FetchFoodEvents(ctx context.Context, userID string, start, end time.Time) ([]models.FoodEvent, error)
	FetchSymptomEvents(ctx context.Context, userID string, start, end time.Time) ([]models.SymptomEvent, error)
	FetchTriggerEvents(ctx context.Context, userID string, start, end time.Time) ([]models.TriggerEvent, error)
	FetchMedicationEvents(ctx context.Context, userID string, start, end time.Time) ([]models.MedicationEvent, error)
}

// DefaultMinSampleSize is applied when a request does not supply one.
const DefaultMinSampleSize = 3

// Computer evaluates a (cause, effect) pair across the configured delay
// windows and selects the best one.
type Computer struct {
	logger  *slog.Logger
	source  EventSource
	windows []models.DelayWindow
	now     func() time.Time
}

// NewComputer constructs a Computer over the given event source.
func NewComputer(logger *slog.Logger, source EventSource) *Computer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Computer{
		logger:  logger,
		source:  source,
		windows: models.DelayWindows,
		now:     time.Now,
	}
}

// Compute fetches events for the request and scores every delay window.
// Empty event lists are not an error: they yield a zero-valued result.
func (c *Computer) Compute(ctx context.Context, req models.CorrelationRequest) (models.CorrelationResult, error) {
	if c.source == nil {
		return models.CorrelationResult{}, fmt.Errorf("event source not configured")
	}
	if req.UserID == "" {
		return models.CorrelationResult{}, fmt.Errorf("user id is required")
	}
	if req.Pair.CauseID == "" || req.Pair.EffectID == "" {
		return models.CorrelationResult{}, fmt.Errorf("cause and effect ids are required")
	}
	if err := req.TimeRange.Validate(); err != nil {
		return models.CorrelationResult{}, err
	}

	causeTimes, err := c.causeOccurrences(ctx, req.UserID, req.Pair.CauseID, req.TimeRange)
	if err != nil {
		return models.CorrelationResult{}, fmt.Errorf("fetch cause events: %w", err)
	}
	effectTimes, err := c.effectOccurrences(ctx, req.UserID, req.Pair.EffectID, req.TimeRange)
	if err != nil {
		return models.CorrelationResult{}, fmt.Errorf("fetch effect events: %w", err)
	}

	return c.fromOccurrences(req.UserID, req.Pair, causeTimes, effectTimes, req.MinSampleSize), nil
}

// fromOccurrences scores pre-fetched, possibly unsorted occurrence lists.
// Shared with the combination detector so joint and individual results are
// produced from one event fetch.
func (c *Computer) fromOccurrences(userID string, pair models.Pair, causeTimes, effectTimes []time.Time, minSampleSize int) models.CorrelationResult {
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}
	sortTimes(causeTimes)
	sortTimes(effectTimes)

	scores := make([]models.WindowScore, 0, len(c.windows))
	for _, window := range c.windows {
		scores = append(scores, ScoreWindow(causeTimes, effectTimes, window))
	}
	best := selectBestWindow(scores, minSampleSize)

	return models.CorrelationResult{
		UserID:       userID,
		CauseID:      pair.CauseID,
		EffectID:     pair.EffectID,
		WindowScores: scores,
		BestWindow:   best,
		SampleSize:   best.SampleSize,
		ComputedAt:   c.now().UTC(),
	}
}

// causeOccurrences collects timestamps at which the cause was logged: meals
// containing the food, matching triggers, or matching medications.
func (c *Computer) causeOccurrences(ctx context.Context, userID, causeID string, tr models.TimeRange) ([]time.Time, error) {
	foods, err := c.source.FetchFoodEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, err
	}
	triggers, err := c.source.FetchTriggerEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, err
	}
	medications, err := c.source.FetchMedicationEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, len(foods))
	for _, event := range foods {
		if containsFold(event.FoodIDs, causeID) {
			times = append(times, event.Timestamp)
		}
	}
	for _, event := range triggers {
		if strings.EqualFold(event.TriggerID, causeID) {
			times = append(times, event.Timestamp)
		}
	}
	for _, event := range medications {
		if strings.EqualFold(event.MedicationID, causeID) {
			times = append(times, event.Timestamp)
		}
	}
	return times, nil
}

func (c *Computer) effectOccurrences(ctx context.Context, userID, effectID string, tr models.TimeRange) ([]time.Time, error) {
	symptoms, err := c.source.FetchSymptomEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(symptoms))
	for _, event := range symptoms {
		if strings.EqualFold(event.Name, effectID) {
			times = append(times, event.Timestamp)
		}
	}
	return times, nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
