package models

import (
	"errors"
	"time"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelTelegram
}

// NotificationStatus is the lifecycle state of a single delivery.
// Pending transitions exactly once to Sent or Failed.
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s NotificationStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// NotificationRecord is one delivery attempt to one recipient on one channel.
type NotificationRecord struct {
	ID        int64              `json:"id"`
	EventID   int64              `json:"event_id"`
	Channel   Channel            `json:"channel"`
	Recipient string             `json:"recipient"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
	Error     string             `json:"error,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Validate checks that all notification fields are valid.
func (n *NotificationRecord) Validate() error {
	if n.EventID <= 0 {
		return errors.New("event ID must be positive")
	}
	if !n.Channel.Valid() {
		return errors.New("channel must be 'whatsapp' or 'telegram'")
	}
	if n.Recipient == "" {
		return errors.New("recipient must not be empty")
	}
	if n.Message == "" {
		return errors.New("message must not be empty")
	}
	if !n.Status.Valid() {
		return errors.New("status must be 'pending', 'sent' or 'failed'")
	}
	if n.Status == StatusSent && n.SentAt == nil {
		return errors.New("sent notifications must have sent at")
	}
	if n.Status != StatusSent && n.SentAt != nil {
		return errors.New("only sent notifications may have sent at")
	}
	if n.Status != StatusFailed && n.Error != "" {
		return errors.New("only failed notifications may carry an error")
	}
	return nil
}

// DispatchOutcome aggregates one dispatch attempt across all recipients.
type DispatchOutcome struct {
	Skipped bool                 `json:"skipped"`
	Reason  string               `json:"reason,omitempty"`
	Total   int                  `json:"total"`
	Sent    int                  `json:"sent"`
	Failed  int                  `json:"failed"`
	Records []NotificationRecord `json:"records,omitempty"`
}

// Skip reasons reported in DispatchOutcome.Reason.
const (
	SkipNoContacts     = "no contacts"
	SkipCooldownActive = "cooldown active"
	SkipNoTransport    = "no transport"
)

// Skipped builds an outcome for a suppressed dispatch.
func Skipped(reason string) DispatchOutcome {
	return DispatchOutcome{Skipped: true, Reason: reason}
}
