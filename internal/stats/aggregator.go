// Package stats produces read-only summaries over stored events: daily and
// per-type statistics, hourly activity trends, a coarse seven-day risk
// prediction and a trend summary. Nothing in this package writes.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/models"
	"github.com/rewired-gh/quakesentinel/internal/storage"
)

// Limits on the trailing windows accepted by the aggregator.
const (
	MaxDays  = 366
	MaxHours = 24 * 31
)

// EventQuerier is the read side of the event store.
type EventQuerier interface {
	QueryEvents(ctx context.Context, filter storage.EventFilter) ([]models.SeismicEvent, error)
}

// Aggregator computes summaries on demand.
type Aggregator struct {
	store EventQuerier
	now   func() time.Time
}

// New creates an Aggregator reading from store.
func New(store EventQuerier) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// WithClock replaces the clock that anchors the trailing windows.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// DailyStat summarizes one event type on one UTC calendar day.
type DailyStat struct {
	Date            string           `json:"date"`
	EventType       models.EventType `json:"event_type"`
	Count           int              `json:"count"`
	AvgAcceleration float64          `json:"avg_acceleration"`
	MaxAcceleration float64          `json:"max_acceleration"`
	MinAcceleration float64          `json:"min_acceleration"`
}

// TypeSummary summarizes one event type over the whole window.
type TypeSummary struct {
	EventType       models.EventType `json:"event_type"`
	TotalEvents     int              `json:"total_events"`
	AvgAcceleration float64          `json:"avg_acceleration"`
	MaxAcceleration float64          `json:"max_acceleration"`
	MinAcceleration float64          `json:"min_acceleration"`
}

// GeneralStats is the result of GeneralStats.
type GeneralStats struct {
	PeriodDays  int           `json:"period_days"`
	Summary     []TypeSummary `json:"summary"`
	DailyStats  []DailyStat   `json:"daily_stats"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// HourlyBucket is the activity of one event type within one UTC hour.
type HourlyBucket struct {
	Hour         time.Time        `json:"hour"`
	EventType    models.EventType `json:"event_type"`
	EventCount   int              `json:"event_count"`
	AvgIntensity float64          `json:"avg_intensity"`
}

// ActivityTrend is the result of ActivityTrend.
type ActivityTrend struct {
	PeriodHours int            `json:"period_hours"`
	Trends      []HourlyBucket `json:"trends"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// window loads all events with a timestamp at or after now-span.
func (a *Aggregator) window(ctx context.Context, span time.Duration) ([]models.SeismicEvent, time.Time, error) {
	now := a.now().UTC()
	events, err := a.store.QueryEvents(ctx, storage.EventFilter{Since: now.Add(-span)})
	if err != nil {
		return nil, now, fmt.Errorf("loading events: %w", err)
	}
	return events, now, nil
}

// accumulator tracks count, sum, max and min of accelerations.
type accumulator struct {
	count    int
	sum      float64
	max, min float64
}

func (acc *accumulator) add(v float64) {
	if acc.count == 0 {
		acc.max, acc.min = v, v
	} else {
		acc.max = math.Max(acc.max, v)
		acc.min = math.Min(acc.min, v)
	}
	acc.count++
	acc.sum += v
}

func (acc *accumulator) avg() float64 {
	if acc.count == 0 {
		return 0
	}
	return acc.sum / float64(acc.count)
}

// GeneralStats returns per-day and per-type statistics of total acceleration
// over the trailing days.
func (a *Aggregator) GeneralStats(ctx context.Context, days int) (*GeneralStats, error) {
	if days < 1 || days > MaxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", models.ErrInvalidInput, MaxDays)
	}
	events, now, err := a.window(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, err
	}

	type dayKey struct {
		date      string
		eventType models.EventType
	}
	daily := make(map[dayKey]*accumulator)
	perType := make(map[models.EventType]*accumulator)

	for _, e := range events {
		k := dayKey{e.Timestamp.UTC().Format(time.DateOnly), e.EventType}
		if daily[k] == nil {
			daily[k] = &accumulator{}
		}
		daily[k].add(e.TotalAcceleration)

		if perType[e.EventType] == nil {
			perType[e.EventType] = &accumulator{}
		}
		perType[e.EventType].add(e.TotalAcceleration)
	}

	out := &GeneralStats{
		PeriodDays:  days,
		Summary:     make([]TypeSummary, 0, len(perType)),
		DailyStats:  make([]DailyStat, 0, len(daily)),
		GeneratedAt: now,
	}
	for k, acc := range daily {
		out.DailyStats = append(out.DailyStats, DailyStat{
			Date:            k.date,
			EventType:       k.eventType,
			Count:           acc.count,
			AvgAcceleration: acc.avg(),
			MaxAcceleration: acc.max,
			MinAcceleration: acc.min,
		})
	}
	for t, acc := range perType {
		out.Summary = append(out.Summary, TypeSummary{
			EventType:       t,
			TotalEvents:     acc.count,
			AvgAcceleration: acc.avg(),
			MaxAcceleration: acc.max,
			MinAcceleration: acc.min,
		})
	}

	sort.Slice(out.DailyStats, func(i, j int) bool {
		if out.DailyStats[i].Date != out.DailyStats[j].Date {
			return out.DailyStats[i].Date > out.DailyStats[j].Date
		}
		return out.DailyStats[i].EventType < out.DailyStats[j].EventType
	})
	sort.Slice(out.Summary, func(i, j int) bool {
		return out.Summary[i].EventType < out.Summary[j].EventType
	})
	return out, nil
}

// ActivityTrend returns hourly event counts and mean intensity per type over
// the trailing hours, newest hour first.
func (a *Aggregator) ActivityTrend(ctx context.Context, hours int) (*ActivityTrend, error) {
	if hours < 1 || hours > MaxHours {
		return nil, fmt.Errorf("%w: hours must be between 1 and %d", models.ErrInvalidInput, MaxHours)
	}
	events, now, err := a.window(ctx, time.Duration(hours)*time.Hour)
	if err != nil {
		return nil, err
	}

	type hourKey struct {
		hour      time.Time
		eventType models.EventType
	}
	buckets := make(map[hourKey]*accumulator)
	for _, e := range events {
		k := hourKey{e.Timestamp.UTC().Truncate(time.Hour), e.EventType}
		if buckets[k] == nil {
			buckets[k] = &accumulator{}
		}
		buckets[k].add(e.TotalAcceleration)
	}

	out := &ActivityTrend{
		PeriodHours: hours,
		Trends:      make([]HourlyBucket, 0, len(buckets)),
		GeneratedAt: now,
	}
	for k, acc := range buckets {
		out.Trends = append(out.Trends, HourlyBucket{
			Hour:         k.hour,
			EventType:    k.eventType,
			EventCount:   acc.count,
			AvgIntensity: acc.avg(),
		})
	}
	sort.Slice(out.Trends, func(i, j int) bool {
		if !out.Trends[i].Hour.Equal(out.Trends[j].Hour) {
			return out.Trends[i].Hour.After(out.Trends[j].Hour)
		}
		return out.Trends[i].EventType < out.Trends[j].EventType
	})
	return out, nil
}

// split partitions events by type, preserving order.
func split(events []models.SeismicEvent) (earthquakes, vibrations []models.SeismicEvent) {
	for _, e := range events {
		if e.IsEarthquake() {
			earthquakes = append(earthquakes, e)
		} else {
			vibrations = append(vibrations, e)
		}
	}
	return earthquakes, vibrations
}
