// Package aftershock estimates the probability of aftershocks following an
// earthquake event.
//
// The estimate is an additive heuristic over four independent factors:
//
//	probability = min(magnitude + recent_activity + historical_pattern + recency, 100)
//
// Magnitude tiers the main event's total acceleration. Recent activity counts
// earthquakes in the seven days before the event. Historical pattern measures
// how often earthquakes within ±20% of the same acceleration recurred. Recency
// rewards events that are still fresh at evaluation time.
//
// Analyses are append-only: every call stores a new analysis with the next
// sequence for its event.
package aftershock

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
	"github.com/rewired-gh/quakesentinel/internal/storage"
)

const (
	// recentWindow is how far back recent activity is counted.
	recentWindow = 7 * 24 * time.Hour
	// historyLimit caps the similar earthquakes considered for recurrence.
	historyLimit = 20
	// similarityBand is the relative acceleration band of a similar earthquake.
	similarityBand = 0.2
)

// Store is the part of the event store the estimator needs.
type Store interface {
	CountEvents(ctx context.Context, filter storage.EventFilter) (int, error)
	QueryEvents(ctx context.Context, filter storage.EventFilter) ([]models.SeismicEvent, error)
	InsertAnalysis(ctx context.Context, analysis *models.AftershockAnalysis) (int64, error)
}

// Estimator computes and stores aftershock analyses.
type Estimator struct {
	store Store
	now   func() time.Time
}

// New creates an Estimator backed by store.
func New(store Store) *Estimator {
	return &Estimator{store: store, now: time.Now}
}

// WithClock replaces the evaluation clock.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

// Estimate computes the analysis for an earthquake event and stores it.
// Vibrations yield models.ErrNotApplicable. When the history cannot be read
// the error wraps models.ErrAnalysisUnavailable and nothing is written.
func (e *Estimator) Estimate(ctx context.Context, event *models.SeismicEvent, settings models.Settings) (*models.AftershockAnalysis, error) {
	if !event.IsEarthquake() {
		return nil, fmt.Errorf("aftershock estimate for %s event %d: %w", event.EventType, event.ID, models.ErrNotApplicable)
	}

	analysis, err := e.Compute(ctx, event, settings)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.InsertAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("storing analysis for event %d: %w: %w", event.ID, models.ErrAnalysisUnavailable, err)
	}

	logger.Info("Aftershock analysis for event %d: %.0f%% (seq %d, factors %v)",
		event.ID, analysis.ProbabilityPercentage, analysis.Sequence, analysis.Factors)
	return analysis, nil
}

// Compute evaluates the factors for an earthquake event without storing the
// result.
func (e *Estimator) Compute(ctx context.Context, event *models.SeismicEvent, settings models.Settings) (*models.AftershockAnalysis, error) {
	quake := models.EventTypeEarthquake

	recent, err := e.store.CountEvents(ctx, storage.EventFilter{
		Type:  &quake,
		Since: event.Timestamp.Add(-recentWindow),
		Until: event.Timestamp,
	})
	if err != nil {
		return nil, unavailable(event.ID, "counting recent earthquakes", err)
	}

	similar, err := e.store.QueryEvents(ctx, storage.EventFilter{
		Type:            &quake,
		Until:           event.Timestamp,
		MinAcceleration: storage.Float(event.TotalAcceleration * (1 - similarityBand)),
		MaxAcceleration: storage.Float(event.TotalAcceleration * (1 + similarityBand)),
		Limit:           historyLimit,
	})
	if err != nil {
		return nil, unavailable(event.ID, "querying similar earthquakes", err)
	}

	computedAt := e.now().UTC()
	probability, reasons := Combine(
		MagnitudeFactor(event.TotalAcceleration),
		RecentActivityFactor(recent),
		HistoricalPatternFactor(MeanIntervalDays(similar)),
		RecencyFactor(computedAt.Sub(event.Timestamp)),
	)

	logger.Debug("Aftershock factors for event %d: recent=%d similar=%d probability=%.0f",
		event.ID, recent, len(similar), probability)

	return &models.AftershockAnalysis{
		MainEventID:           event.ID,
		ProbabilityPercentage: probability,
		Factors:               reasons,
		ComputedAt:            computedAt,
		ExpiresAt:             event.Timestamp.Add(settings.AftershockWindow),
	}, nil
}

func unavailable(eventID int64, op string, err error) error {
	return fmt.Errorf("%s for event %d: %w: %w", op, eventID, models.ErrAnalysisUnavailable, err)
}
