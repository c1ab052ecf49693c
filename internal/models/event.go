// Package models defines the core domain entities for quakesentinel.
// These models represent classified accelerometer readings, aftershock analyses,
// and notification deliveries. All persisted models include built-in validation
// to ensure data integrity throughout the application.
//
// Terminology:
//   - Sample: a raw tri-axis acceleration reading reported by a sensor device.
//   - Event: a stored, classified sample. Every sample becomes exactly one event.
//   - Earthquake: an event whose total acceleration meets the earthquake threshold.
package models

import (
	"errors"
	"math"
	"time"
)

// EventType classifies a seismic event.
type EventType string

const (
	EventTypeVibration  EventType = "vibration"
	EventTypeEarthquake EventType = "earthquake"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventTypeVibration || t == EventTypeEarthquake
}

// ParseEventType converts a string into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", errors.New("event type must be 'vibration' or 'earthquake'")
	}
	return t, nil
}

// Sample is a raw accelerometer reading as received from a device.
// Pointer fields distinguish "absent" from zero.
type Sample struct {
	DeviceID  string     `json:"device_id"`
	X         *float64   `json:"acceleration_x"`
	Y         *float64   `json:"acceleration_y"`
	Z         *float64   `json:"acceleration_z"`
	Magnitude *float64   `json:"magnitude,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Vector is a tri-axis acceleration in m/s².
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the Euclidean norm of the vector.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// SeismicEvent is a classified sample. Only Processed and NotificationSent
// change after creation, and each is set at most once.
type SeismicEvent struct {
	ID                int64     `json:"id"`
	DeviceID          string    `json:"device_id"`
	Timestamp         time.Time `json:"timestamp"`
	Acceleration      Vector    `json:"acceleration"`
	TotalAcceleration float64   `json:"total_acceleration"`
	EventType         EventType `json:"event_type"`
	Magnitude         float64   `json:"magnitude"`
	Processed         bool      `json:"processed"`
	NotificationSent  bool      `json:"notification_sent"`
	CreatedAt         time.Time `json:"created_at"`
}

// normTolerance bounds the relative error allowed between the stored total
// acceleration and the norm of the stored vector.
const normTolerance = 1e-6

// IsEarthquake reports whether the event was classified as an earthquake.
func (e *SeismicEvent) IsEarthquake() bool {
	return e.EventType == EventTypeEarthquake
}

// Validate checks that all event fields are valid.
func (e *SeismicEvent) Validate() error {
	if e.DeviceID == "" {
		return errors.New("device ID must not be empty")
	}
	if !e.EventType.Valid() {
		return errors.New("event type must be 'vibration' or 'earthquake'")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if e.TotalAcceleration < 0 || math.IsNaN(e.TotalAcceleration) || math.IsInf(e.TotalAcceleration, 0) {
		return errors.New("total acceleration must be a finite non-negative number")
	}
	norm := e.Acceleration.Norm()
	if math.Abs(norm-e.TotalAcceleration) > normTolerance*math.Max(1, norm) {
		return errors.New("total acceleration must equal the norm of the acceleration vector")
	}
	if math.IsNaN(e.Magnitude) || math.IsInf(e.Magnitude, 0) {
		return errors.New("magnitude must be finite")
	}
	return nil
}
