package models

import (
	"errors"
	"time"
)

// AftershockAnalysis is a heuristic aftershock probability computed for an
// earthquake event. Analyses are append-only; the current analysis for an
// event is the one with the highest Sequence.
type AftershockAnalysis struct {
	ID                    int64     `json:"id"`
	MainEventID           int64     `json:"main_event_id"`
	Sequence              int       `json:"sequence"`
	ProbabilityPercentage float64   `json:"probability_percentage"`
	Factors               []string  `json:"factors"`
	ComputedAt            time.Time `json:"computed_at"`
	ExpiresAt             time.Time `json:"expires_at"`
}

// Active reports whether the analysis window is still open at t.
func (a *AftershockAnalysis) Active(t time.Time) bool {
	return t.Before(a.ExpiresAt)
}

// Validate checks that all analysis fields are valid.
func (a *AftershockAnalysis) Validate() error {
	if a.MainEventID <= 0 {
		return errors.New("main event ID must be positive")
	}
	if a.ProbabilityPercentage < 0 || a.ProbabilityPercentage > 100 {
		return errors.New("probability percentage must be between 0 and 100")
	}
	if a.ComputedAt.IsZero() {
		return errors.New("computed at must be set")
	}
	if a.ExpiresAt.IsZero() {
		return errors.New("expires at must be set")
	}
	return nil
}
