package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

// RiskLevel is a coarse classification of expected seismic activity.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// raise returns the higher of two levels.
func (r RiskLevel) raise(to RiskLevel) RiskLevel {
	rank := map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}
	if rank[to] > rank[r] {
		return to
	}
	return r
}

// predictionWindow is the look-back of SimplePrediction.
const predictionWindow = 7 * 24 * time.Hour

// Prediction is the result of SimplePrediction.
type Prediction struct {
	RiskLevel             RiskLevel `json:"risk_level"`
	ProbabilityPercentage float64   `json:"probability_percentage"`
	Factors               []string  `json:"factors"`
	Confidence            string    `json:"confidence"`
	Recommendation        string    `json:"recommendation"`
	AnalysisPeriod        string    `json:"analysis_period"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// SimplePrediction scores the last seven days of activity.
//
//	earthquake in the last 72h  +30, at least medium
//	more than 10 vibrations     +20, at least medium
//	more than 2 earthquakes     +25, high
//
// Confidence is medium above 50 points and low otherwise.
func (a *Aggregator) SimplePrediction(ctx context.Context) (*Prediction, error) {
	events, now, err := a.window(ctx, predictionWindow)
	if err != nil {
		return nil, err
	}
	earthquakes, vibrations := split(events)

	p := &Prediction{
		RiskLevel:      RiskLow,
		Factors:        []string{},
		AnalysisPeriod: "7 days",
		GeneratedAt:    now,
	}

	var points float64
	if len(earthquakes) > 0 {
		// events are ordered newest first
		hoursSince := now.Sub(earthquakes[0].Timestamp).Hours()
		if hoursSince < 72 {
			points += 30
			p.Factors = append(p.Factors, fmt.Sprintf("recent earthquake %.1f hours ago", hoursSince))
			p.RiskLevel = p.RiskLevel.raise(RiskMedium)
		}
	}
	if len(vibrations) > 10 {
		points += 20
		p.Factors = append(p.Factors, fmt.Sprintf("high vibration activity: %d events in 7 days", len(vibrations)))
		p.RiskLevel = p.RiskLevel.raise(RiskMedium)
	}
	if len(earthquakes) > 2 {
		points += 25
		p.Factors = append(p.Factors, fmt.Sprintf("multiple recent earthquakes: %d events", len(earthquakes)))
		p.RiskLevel = RiskHigh
	}

	p.ProbabilityPercentage = math.Min(points, 100)
	p.Confidence = "low"
	if p.ProbabilityPercentage > 50 {
		p.Confidence = "medium"
	}
	p.Recommendation = Recommendation(p.RiskLevel)
	return p, nil
}

// Recommendation returns the advice shown with a risk level.
func Recommendation(level RiskLevel) string {
	switch level {
	case RiskHigh:
		return "Elevated risk of seismic activity. Stay alert and review emergency plans."
	case RiskMedium:
		return "Moderate seismic activity detected. Continuous monitoring recommended."
	default:
		return "Normal seismic activity. Continue routine monitoring."
	}
}

// Trend directions reported by TrendSummary.
const (
	TrendInsufficientData = "insufficient_data"
	TrendStable           = "stable"
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
)

// minTrendEvents is the fewest events a trend direction is computed from.
const minTrendEvents = 10

// TrendSummary is the result of TrendSummary.
type TrendSummary struct {
	PeriodDays                 int       `json:"period_days"`
	TotalEvents                int       `json:"total_events"`
	EarthquakesCount           int       `json:"earthquakes_count"`
	VibrationsCount            int       `json:"vibrations_count"`
	EarthquakeFrequency        float64   `json:"earthquake_frequency"`
	VibrationFrequency         float64   `json:"vibration_frequency"`
	AverageEarthquakeIntensity float64   `json:"average_earthquake_intensity"`
	TrendDirection             string    `json:"trend_direction"`
	RiskAssessment             RiskLevel `json:"risk_assessment"`
	GeneratedAt                time.Time `json:"generated_at"`
}

// TrendSummary reports event rates, the intensity trend and a rate-based
// risk level over the trailing days.
func (a *Aggregator) TrendSummary(ctx context.Context, days int) (*TrendSummary, error) {
	if days < 1 || days > MaxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", models.ErrInvalidInput, MaxDays)
	}
	events, now, err := a.window(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	earthquakes, vibrations := split(events)

	s := &TrendSummary{
		PeriodDays:          days,
		TotalEvents:         len(events),
		EarthquakesCount:    len(earthquakes),
		VibrationsCount:     len(vibrations),
		EarthquakeFrequency: float64(len(earthquakes)) / float64(days),
		VibrationFrequency:  float64(len(vibrations)) / float64(days),
		TrendDirection:      TrendDirection(events),
		RiskAssessment:      AssessRisk(earthquakes, len(vibrations), days),
		GeneratedAt:         now,
	}
	if len(earthquakes) > 0 {
		var sum float64
		for _, e := range earthquakes {
			sum += e.TotalAcceleration
		}
		s.AverageEarthquakeIntensity = sum / float64(len(earthquakes))
	}
	return s, nil
}

// TrendDirection compares the mean intensity of the newer half of events
// (ordered newest first) with the older half. A difference under 1 m/s² is
// stable.
func TrendDirection(events []models.SeismicEvent) string {
	if len(events) < minTrendEvents {
		return TrendInsufficientData
	}
	mid := len(events) / 2
	newer, older := mean(events[:mid]), mean(events[mid:])

	diff := newer - older
	switch {
	case math.Abs(diff) < 1:
		return TrendStable
	case diff > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

// AssessRisk classifies daily event rates. Any earthquake above 20 m/s² is
// high risk on its own.
func AssessRisk(earthquakes []models.SeismicEvent, vibrations, days int) RiskLevel {
	quakeRate := float64(len(earthquakes)) / float64(days)
	vibrationRate := float64(vibrations) / float64(days)

	strong := 0
	for _, e := range earthquakes {
		if e.TotalAcceleration > 20 {
			strong++
		}
	}

	switch {
	case quakeRate > 0.3 || strong > 0:
		return RiskHigh
	case quakeRate > 0.1 || vibrationRate > 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func mean(events []models.SeismicEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	var sum float64
	for _, e := range events {
		sum += e.TotalAcceleration
	}
	return sum / float64(len(events))
}
