package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

// SeriesPoint is one bucket of a per-day severity series.
type SeriesPoint struct {
	Day   time.Time
	Value float64
}

// SeverityRegime is a span of days with a statistically distinct mean severity.
type SeverityRegime struct {
	Start        time.Time
	End          time.Time
	MeanSeverity float64
}

// BuildDailySeverity buckets symptom events matching name into an ordered
// daily mean-severity series. Days without a matching event are omitted so
// sparse journals do not read as regime shifts to zero.
func BuildDailySeverity(events []models.SymptomEvent, name string) []SeriesPoint {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*bucket)
	for _, event := range events {
		if name != "" && !strings.EqualFold(event.Name, name) {
			continue
		}
		day := event.Timestamp.UTC().Truncate(24 * time.Hour)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.sum += float64(event.Severity)
		b.count++
	}

	series := make([]SeriesPoint, 0, len(buckets))
	for day, b := range buckets {
		series = append(series, SeriesPoint{Day: day, Value: b.sum / float64(b.count)})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day.Before(series[j].Day) })
	return series
}

// DetectSeverityRegimes runs change-point detection over the daily series
// and reports the resulting segments with their mean severities.
func DetectSeverityRegimes(series []SeriesPoint, penalty float64) []SeverityRegime {
	if len(series) == 0 {
		return nil
	}
	values := make([]float64, len(series))
	for i, point := range series {
		values[i] = point.Value
	}

	points := Pelt(values, nil, penalty)
	bounds := append([]int{0}, points...)
	bounds = append(bounds, len(series))

	regimes := make([]SeverityRegime, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		sum := 0.0
		for _, v := range values[start:end] {
			sum += v
		}
		regimes = append(regimes, SeverityRegime{
			Start:        series[start].Day,
			End:          series[end-1].Day,
			MeanSeverity: sum / float64(end-start),
		})
	}
	return regimes
}
