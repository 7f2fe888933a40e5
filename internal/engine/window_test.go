package engine

import (
	"testing"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

var testWindow = models.DelayWindow{Name: "2-4h", MinOffset: 2 * time.Hour, MaxOffset: 4 * time.Hour}

func TestScoreWindowNoCauses(t *testing.T) {
	score := ScoreWindow(nil, []time.Time{time.Now()}, testWindow)
	if score.Score != 0 || score.SampleSize != 0 {
		t.Fatalf("expected zero score without cause events, got %+v", score)
	}
}

func TestScoreWindowNoEffects(t *testing.T) {
	causes := []time.Time{time.Now(), time.Now().Add(time.Hour)}
	score := ScoreWindow(causes, nil, testWindow)
	if score.Score != 0 {
		t.Fatalf("expected zero score without effect events, got %f", score.Score)
	}
	if score.SampleSize != 2 {
		t.Fatalf("sample size should count cause events, got %d", score.SampleSize)
	}
}

func TestScoreWindowHitDetection(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	causes := make([]time.Time, 0, 10)
	effects := make([]time.Time, 0, 10)
	for day := 0; day < 10; day++ {
		cause := base.Add(time.Duration(day) * 24 * time.Hour)
		causes = append(causes, cause)
		effects = append(effects, cause.Add(3*time.Hour))
	}

	score := ScoreWindow(causes, effects, testWindow)
	if score.SampleSize != 10 {
		t.Fatalf("expected sample size 10, got %d", score.SampleSize)
	}
	if score.Score <= 0 {
		t.Fatalf("consistent 3h lag should score positively in 2-4h window, got %f", score.Score)
	}
	if score.PValue == nil {
		t.Fatalf("expected a p-value for a non-degenerate baseline")
	}
	if *score.PValue >= 0.5 {
		t.Fatalf("above-baseline hit rate should have p < 0.5, got %f", *score.PValue)
	}
}

func TestScoreWindowExclusiveUpperBound(t *testing.T) {
	cause := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	// Exactly at cause+MaxOffset: outside the half-open window.
	boundary := ScoreWindow(
		[]time.Time{cause, cause.Add(48 * time.Hour), cause.Add(96 * time.Hour)},
		[]time.Time{cause.Add(4 * time.Hour)},
		testWindow,
	)
	inside := ScoreWindow(
		[]time.Time{cause, cause.Add(48 * time.Hour), cause.Add(96 * time.Hour)},
		[]time.Time{cause.Add(4*time.Hour - time.Millisecond)},
		testWindow,
	)
	if boundary.Score >= inside.Score {
		t.Fatalf("effect at the upper bound must not count as a hit: boundary %f, inside %f", boundary.Score, inside.Score)
	}
}

func TestScoreWindowDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	causes := []time.Time{base, base.Add(24 * time.Hour), base.Add(50 * time.Hour)}
	effects := []time.Time{base.Add(3 * time.Hour), base.Add(30 * time.Hour)}

	first := ScoreWindow(causes, effects, testWindow)
	for i := 0; i < 100; i++ {
		again := ScoreWindow(causes, effects, testWindow)
		if again.Score != first.Score || again.SampleSize != first.SampleSize {
			t.Fatalf("iteration %d diverged: %+v vs %+v", i, again, first)
		}
		if (again.PValue == nil) != (first.PValue == nil) {
			t.Fatalf("iteration %d p-value presence diverged", i)
		}
		if again.PValue != nil && *again.PValue != *first.PValue {
			t.Fatalf("iteration %d p-value diverged: %v vs %v", i, *again.PValue, *first.PValue)
		}
	}
}

func TestSelectBestWindowHighestScore(t *testing.T) {
	scores := []models.WindowScore{
		{Window: "15m", Score: 0.1, SampleSize: 10},
		{Window: "2-4h", Score: 0.6, SampleSize: 10},
		{Window: "24h", Score: 0.3, SampleSize: 10},
	}
	best := selectBestWindow(scores, 3)
	if best.Window != "2-4h" {
		t.Fatalf("expected 2-4h to win, got %s", best.Window)
	}
}

func TestSelectBestWindowTieBreaks(t *testing.T) {
	// Equal scores: larger sample wins.
	bySample := selectBestWindow([]models.WindowScore{
		{Window: "15m", Score: 0.5, SampleSize: 4},
		{Window: "1h", Score: 0.5, SampleSize: 9},
	}, 3)
	if bySample.Window != "1h" {
		t.Fatalf("expected larger sample to break the tie, got %s", bySample.Window)
	}

	// Equal scores and samples: earlier configured window wins.
	byOrder := selectBestWindow([]models.WindowScore{
		{Window: "15m", Score: 0.5, SampleSize: 5},
		{Window: "1h", Score: 0.5, SampleSize: 5},
	}, 3)
	if byOrder.Window != "15m" {
		t.Fatalf("expected earlier window to break the tie, got %s", byOrder.Window)
	}
}

func TestSelectBestWindowBelowThreshold(t *testing.T) {
	best := selectBestWindow([]models.WindowScore{
		{Window: "15m", Score: 0.9, SampleSize: 1},
		{Window: "1h", Score: 0.2, SampleSize: 2},
	}, 3)
	if best.Window != "1h" {
		t.Fatalf("all below threshold: largest sample should win, got %s", best.Window)
	}
}

func TestSelectBestWindowIgnoresSmallSamples(t *testing.T) {
	best := selectBestWindow([]models.WindowScore{
		{Window: "15m", Score: 0.9, SampleSize: 2},
		{Window: "1h", Score: 0.3, SampleSize: 8},
	}, 3)
	if best.Window != "1h" {
		t.Fatalf("window below min sample size must lose to qualified window, got %s", best.Window)
	}
}
