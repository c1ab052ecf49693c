package models

import (
	"math"
	"testing"
	"time"
)

func TestVectorNorm(t *testing.T) {
	v := Vector{X: 3, Y: 4, Z: 12}
	if got := v.Norm(); math.Abs(got-13) > 1e-9 {
		t.Errorf("Norm() = %f, expected 13", got)
	}
}

func TestSeismicEventValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		event   SeismicEvent
		wantErr bool
	}{
		{
			name: "valid earthquake",
			event: SeismicEvent{
				DeviceID:          "pico_sensor_01",
				Timestamp:         now,
				Acceleration:      Vector{X: 3, Y: 4, Z: 12},
				TotalAcceleration: 13,
				EventType:         EventTypeEarthquake,
				Magnitude:         13,
			},
			wantErr: false,
		},
		{
			name: "empty device",
			event: SeismicEvent{
				Timestamp:         now,
				Acceleration:      Vector{X: 3, Y: 4},
				TotalAcceleration: 5,
				EventType:         EventTypeVibration,
			},
			wantErr: true,
		},
		{
			name: "norm mismatch",
			event: SeismicEvent{
				DeviceID:          "pico_sensor_01",
				Timestamp:         now,
				Acceleration:      Vector{X: 3, Y: 4},
				TotalAcceleration: 6,
				EventType:         EventTypeVibration,
			},
			wantErr: true,
		},
		{
			name: "unknown type",
			event: SeismicEvent{
				DeviceID:          "pico_sensor_01",
				Timestamp:         now,
				Acceleration:      Vector{X: 3, Y: 4},
				TotalAcceleration: 5,
				EventType:         "tremor",
			},
			wantErr: true,
		},
		{
			name: "missing timestamp",
			event: SeismicEvent{
				DeviceID:          "pico_sensor_01",
				Acceleration:      Vector{X: 3, Y: 4},
				TotalAcceleration: 5,
				EventType:         EventTypeVibration,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("SeismicEvent.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAftershockAnalysisValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name     string
		analysis AftershockAnalysis
		wantErr  bool
	}{
		{
			name: "valid analysis",
			analysis: AftershockAnalysis{
				MainEventID:           1,
				ProbabilityPercentage: 55,
				Factors:               []string{"high magnitude main event"},
				ComputedAt:            now,
				ExpiresAt:             now.Add(72 * time.Hour),
			},
			wantErr: false,
		},
		{
			name: "probability above 100",
			analysis: AftershockAnalysis{
				MainEventID:           1,
				ProbabilityPercentage: 101,
				ComputedAt:            now,
				ExpiresAt:             now.Add(72 * time.Hour),
			},
			wantErr: true,
		},
		{
			name: "missing event",
			analysis: AftershockAnalysis{
				ProbabilityPercentage: 10,
				ComputedAt:            now,
				ExpiresAt:             now.Add(72 * time.Hour),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.analysis.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("AftershockAnalysis.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNotificationRecordValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		record  NotificationRecord
		wantErr bool
	}{
		{
			name: "pending",
			record: NotificationRecord{
				EventID: 1, Channel: ChannelWhatsApp, Recipient: "+56911111111",
				Message: "alert", Status: StatusPending,
			},
			wantErr: false,
		},
		{
			name: "sent with timestamp",
			record: NotificationRecord{
				EventID: 1, Channel: ChannelWhatsApp, Recipient: "+56911111111",
				Message: "alert", Status: StatusSent, SentAt: &now,
			},
			wantErr: false,
		},
		{
			name: "sent without timestamp",
			record: NotificationRecord{
				EventID: 1, Channel: ChannelWhatsApp, Recipient: "+56911111111",
				Message: "alert", Status: StatusSent,
			},
			wantErr: true,
		},
		{
			name: "failed with sent at",
			record: NotificationRecord{
				EventID: 1, Channel: ChannelWhatsApp, Recipient: "+56911111111",
				Message: "alert", Status: StatusFailed, SentAt: &now, Error: "boom",
			},
			wantErr: true,
		},
		{
			name: "unknown channel",
			record: NotificationRecord{
				EventID: 1, Channel: "sms", Recipient: "+56911111111",
				Message: "alert", Status: StatusPending,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("NotificationRecord.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings should be valid: %v", err)
	}
	if s.CooldownMinutes() != 15 {
		t.Errorf("CooldownMinutes() = %d, expected 15", s.CooldownMinutes())
	}
	if s.AftershockWindowHours() != 72 {
		t.Errorf("AftershockWindowHours() = %d, expected 72", s.AftershockWindowHours())
	}

	th, err := s.Threshold(SettingEarthquakeThreshold)
	if err != nil || th != 15.0 {
		t.Errorf("Threshold(earthquake) = %f, %v", th, err)
	}
	if _, err := s.Threshold("bogus"); err == nil {
		t.Error("expected error for unknown threshold")
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		n := DefaultSettings()
		n.EarthquakeThreshold = bad
		if err := n.Validate(); err == nil {
			t.Errorf("expected error for earthquake threshold %v", bad)
		}
		n = DefaultSettings()
		n.VibrationThreshold = bad
		if err := n.Validate(); err == nil {
			t.Errorf("expected error for vibration threshold %v", bad)
		}
	}

	s.EmergencyContacts = []Contact{{Name: "Admin"}}
	if err := s.Validate(); err == nil {
		t.Error("expected error for contact without address")
	}
}
