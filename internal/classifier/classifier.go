// Package classifier turns raw accelerometer samples into stored seismic events.
//
// The total acceleration of a sample is the Euclidean norm of its three axes:
//
//	total = sqrt(x² + y² + z²)
//
// A sample whose total meets or exceeds the earthquake threshold is an
// earthquake; every other sample is a vibration. The vibration threshold is
// informational only and never changes the classification.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
)

// EventWriter persists classified events.
type EventWriter interface {
	InsertEvent(ctx context.Context, event *models.SeismicEvent) (int64, error)
}

// Classifier validates, classifies and stores samples.
type Classifier struct {
	store EventWriter
	now   func() time.Time
}

// New creates a Classifier writing to store.
func New(store EventWriter) *Classifier {
	return &Classifier{store: store, now: time.Now}
}

// WithClock replaces the clock used for samples without a timestamp.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Classify validates the sample, classifies it against the snapshot's
// earthquake threshold and stores the resulting event. Invalid samples fail
// with models.ErrInvalidInput before anything is written.
func (c *Classifier) Classify(ctx context.Context, sample models.Sample, settings models.Settings) (*models.SeismicEvent, error) {
	threshold, err := settings.Threshold(models.SettingEarthquakeThreshold)
	if err != nil {
		return nil, err
	}

	event, err := Evaluate(sample, threshold, c.now())
	if err != nil {
		return nil, err
	}

	id, err := c.store.InsertEvent(ctx, &event)
	if err != nil {
		return nil, fmt.Errorf("storing event from %s: %w", event.DeviceID, err)
	}
	event.ID = id

	logger.Debug("Classified sample from %s: total=%.3f m/s² type=%s id=%d",
		event.DeviceID, event.TotalAcceleration, event.EventType, event.ID)
	return &event, nil
}

// Evaluate builds the event for a sample without storing it. now is used when
// the sample carries no timestamp. Timestamps are normalized to UTC with
// millisecond precision, which is what the store keeps.
func Evaluate(sample models.Sample, threshold float64, now time.Time) (models.SeismicEvent, error) {
	if err := ValidateSample(sample); err != nil {
		return models.SeismicEvent{}, err
	}

	accel := models.Vector{X: *sample.X, Y: *sample.Y, Z: *sample.Z}
	total := accel.Norm()
	if math.IsInf(total, 0) {
		return models.SeismicEvent{}, fmt.Errorf("%w: total acceleration overflows", models.ErrInvalidInput)
	}

	magnitude := total
	if sample.Magnitude != nil {
		magnitude = *sample.Magnitude
	}

	ts := now
	if sample.Timestamp != nil {
		ts = *sample.Timestamp
	}

	return models.SeismicEvent{
		DeviceID:          sample.DeviceID,
		Timestamp:         ts.UTC().Truncate(time.Millisecond),
		Acceleration:      accel,
		TotalAcceleration: total,
		EventType:         Classify(total, threshold),
		Magnitude:         magnitude,
	}, nil
}

// Classify returns the event type for a total acceleration. The threshold
// itself counts as an earthquake.
func Classify(total, threshold float64) models.EventType {
	if total >= threshold {
		return models.EventTypeEarthquake
	}
	return models.EventTypeVibration
}

// ValidateSample checks that a sample carries a device and three finite axes.
// A supplied magnitude must be finite too.
func ValidateSample(sample models.Sample) error {
	var errs []error
	if sample.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	for _, axis := range []struct {
		name  string
		value *float64
	}{
		{"acceleration_x", sample.X},
		{"acceleration_y", sample.Y},
		{"acceleration_z", sample.Z},
	} {
		switch {
		case axis.value == nil:
			errs = append(errs, fmt.Errorf("%s is required", axis.name))
		case !finite(*axis.value):
			errs = append(errs, fmt.Errorf("%s must be finite", axis.name))
		}
	}
	if sample.Magnitude != nil && !finite(*sample.Magnitude) {
		errs = append(errs, errors.New("magnitude must be finite"))
	}
	if sample.Timestamp != nil && sample.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp must not be zero"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
