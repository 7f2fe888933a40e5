package engine

import (
	"math"
	"sort"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

// ScoreWindow computes the association score for a single delay window from
// chronologically sorted occurrence timestamps. It is a pure function: no
// I/O, no clock access, identical output for identical input.
//
// The score is the deviation of the observed hit rate (share of cause events
// followed by at least one effect inside the window) from the baseline rate
// one would expect if effects were spread uniformly over the observed span.
func ScoreWindow(causeTimes, effectTimes []time.Time, window models.DelayWindow) models.WindowScore {
	n := len(causeTimes)
	if n == 0 {
		return models.WindowScore{Window: window.Name}
	}
	if len(effectTimes) == 0 {
		return models.WindowScore{Window: window.Name, SampleSize: n}
	}

	hits := 0
	for _, cause := range causeTimes {
		lo := cause.Add(window.MinOffset)
		hi := cause.Add(window.MaxOffset)
		idx := sort.Search(len(effectTimes), func(i int) bool {
			return !effectTimes[i].Before(lo)
		})
		if idx < len(effectTimes) && effectTimes[idx].Before(hi) {
			hits++
		}
	}

	expected := baselineRate(causeTimes, effectTimes, window)
	hitRate := float64(hits) / float64(n)

	score := models.WindowScore{
		Window:     window.Name,
		Score:      hitRate - expected,
		SampleSize: n,
	}
	if pv, ok := binomialPValue(hits, n, expected); ok {
		score.PValue = &pv
	}
	return score
}

// baselineRate estimates the probability of seeing at least one effect in an
// arbitrary window of this width, assuming effects are uniform over the span
// covered by the observed events.
func baselineRate(causeTimes, effectTimes []time.Time, window models.DelayWindow) float64 {
	width := window.MaxOffset - window.MinOffset
	if width <= 0 {
		return 0
	}

	first := causeTimes[0]
	last := causeTimes[len(causeTimes)-1]
	if effectTimes[0].Before(first) {
		first = effectTimes[0]
	}
	if effectTimes[len(effectTimes)-1].After(last) {
		last = effectTimes[len(effectTimes)-1]
	}

	span := last.Sub(first)
	if span <= width {
		return 1
	}

	rate := float64(len(effectTimes)) * float64(width) / float64(span)
	if rate > 1 {
		rate = 1
	}
	return rate
}

// binomialPValue is a one-sided normal approximation of P(X >= hits) for
// X ~ Binomial(n, p). Degenerate p yields no p-value.
func binomialPValue(hits, n int, p float64) (float64, bool) {
	if n == 0 || p <= 0 || p >= 1 {
		return 0, false
	}
	mean := float64(n) * p
	stddev := math.Sqrt(float64(n) * p * (1 - p))
	if stddev == 0 {
		return 0, false
	}
	z := (float64(hits) - mean) / stddev
	return 0.5 * math.Erfc(z/math.Sqrt2), true
}

// selectBestWindow applies the deterministic best-window policy: highest
// score among windows meeting the minimum sample size; ties prefer the
// larger sample, then the earlier configured window. When every window is
// below threshold the one with the largest sample wins regardless of score.
func selectBestWindow(scores []models.WindowScore, minSampleSize int) models.WindowScore {
	best := -1
	for i, s := range scores {
		if s.SampleSize < minSampleSize {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if s.Score > scores[best].Score ||
			(s.Score == scores[best].Score && s.SampleSize > scores[best].SampleSize) {
			best = i
		}
	}
	if best >= 0 {
		return scores[best]
	}

	// Low-confidence fallback: nothing met the threshold.
	for i, s := range scores {
		if best < 0 || s.SampleSize > scores[best].SampleSize {
			best = i
		}
	}
	if best < 0 {
		return models.WindowScore{}
	}
	return scores[best]
}

func sortTimes(times []time.Time) {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
}
