// Package notify decides whether an event alert should fire and delivers it
// to every emergency contact on every channel the contact can be reached on.
//
// Alerts are rate limited per event type: once a notification of a type was
// sent, further events of that type are skipped until the cooldown elapses.
// The check and the claim happen in one atomic step through a Gate, so two
// events racing through the pipeline cannot both send. A dispatch that
// delivers nothing gives its claim back.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
	"github.com/rewired-gh/quakesentinel/internal/storage"
)

// Transport delivers a message to one recipient on one channel.
type Transport interface {
	Channel() models.Channel
	Send(ctx context.Context, recipient, message string) (messageID string, err error)
}

// RecordStore persists per-recipient delivery records.
type RecordStore interface {
	InsertNotification(ctx context.Context, record *models.NotificationRecord) (int64, error)
	CompleteNotification(ctx context.Context, id int64, result storage.DeliveryResult) error
}

// Observer receives per-delivery results, e.g. for metrics.
type Observer interface {
	ObserveDelivery(channel models.Channel, status models.NotificationStatus, elapsed time.Duration)
	ObserveDispatch(eventType models.EventType, outcome models.DispatchOutcome)
}

// Dispatcher fans alerts out to contacts.
type Dispatcher struct {
	store       RecordStore
	gate        Gate
	transports  map[models.Channel]Transport
	maxParallel int
	observer    Observer
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxParallel bounds concurrent deliveries within one dispatch.
func WithMaxParallel(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxParallel = n
		}
	}
}

// WithClock replaces the clock used for the cooldown and sent timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithObserver attaches an observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a Dispatcher. Channels without a transport are not
// delivered to.
func NewDispatcher(store RecordStore, gate Gate, transports []Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		gate:        gate,
		transports:  make(map[models.Channel]Transport, len(transports)),
		maxParallel: 4,
		now:         time.Now,
	}
	for _, t := range transports {
		d.transports[t.Channel()] = t
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// delivery is one recipient address on one channel.
type delivery struct {
	transport Transport
	record    models.NotificationRecord
}

// plan expands contacts into deliveries in contact order.
func (d *Dispatcher) plan(eventID int64, contacts []models.Contact, message string) []*delivery {
	var out []*delivery
	for _, c := range contacts {
		for _, target := range []struct {
			channel models.Channel
			address string
		}{
			{models.ChannelWhatsApp, c.Phone},
			{models.ChannelTelegram, c.TelegramChatID},
		} {
			if target.address == "" {
				continue
			}
			t, ok := d.transports[target.channel]
			if !ok {
				continue
			}
			out = append(out, &delivery{
				transport: t,
				record: models.NotificationRecord{
					EventID:   eventID,
					Channel:   target.channel,
					Recipient: target.address,
					Message:   message,
					Status:    models.StatusPending,
				},
			})
		}
	}
	return out
}

// Dispatch sends the alert for event unless the cooldown for its type is
// active. Per-recipient failures are recorded and never abort siblings.
// The returned error reports store failures; the outcome is still valid for
// the deliveries that were attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.SeismicEvent, aftershockProbability float64, settings models.Settings) (models.DispatchOutcome, error) {
	contacts := settings.Contacts()
	if len(contacts) == 0 {
		logger.Debug("Dispatch for event %d skipped: no contacts", event.ID)
		return d.finish(event, models.Skipped(models.SkipNoContacts)), nil
	}

	message := RenderMessage(event, aftershockProbability)
	deliveries := d.plan(event.ID, contacts, message)
	if len(deliveries) == 0 {
		logger.Warn("Dispatch for event %d skipped: no transport for any contact channel", event.ID)
		return d.finish(event, models.Skipped(models.SkipNoTransport)), nil
	}

	token, ok, err := d.gate.Acquire(ctx, event.EventType, d.now(), settings.NotificationCooldown)
	if err != nil {
		return models.DispatchOutcome{}, fmt.Errorf("checking %s cooldown: %w", event.EventType, err)
	}
	if !ok {
		logger.Info("Dispatch for event %d skipped: %s cooldown active", event.ID, event.EventType)
		return d.finish(event, models.Skipped(models.SkipCooldownActive)), nil
	}

	outcome, err := d.deliver(ctx, deliveries)
	if outcome.Sent == 0 {
		// Release with a fresh context so a cancelled dispatch still frees the slot.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if relErr := d.gate.Release(releaseCtx, event.EventType, token); relErr != nil {
			logger.Warn("Failed to release %s cooldown: %v", event.EventType, relErr)
		}
		cancel()
	} else {
		d.extend(ctx, event.EventType, token, outcome, settings.NotificationCooldown)
	}

	logger.Info("Dispatch for event %d: %d sent, %d failed of %d", event.ID, outcome.Sent, outcome.Failed, outcome.Total)
	return d.finish(event, outcome), err
}

// extend restarts an expiring claim at the last sent_at, so the cooldown
// runs for the full window after delivery rather than after Acquire.
func (d *Dispatcher) extend(ctx context.Context, eventType models.EventType, token string, outcome models.DispatchOutcome, window time.Duration) {
	ext, ok := d.gate.(Extender)
	if !ok || window <= 0 {
		return
	}
	var last time.Time
	for _, r := range outcome.Records {
		if r.SentAt != nil && r.SentAt.After(last) {
			last = *r.SentAt
		}
	}
	ttl := last.Add(window).Sub(d.now())
	extCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := ext.Extend(extCtx, eventType, token, ttl); err != nil {
		logger.Warn("Failed to extend %s cooldown: %v", eventType, err)
	}
}

// deliver writes a pending record per delivery, then sends in parallel.
func (d *Dispatcher) deliver(ctx context.Context, deliveries []*delivery) (models.DispatchOutcome, error) {
	outcome := models.DispatchOutcome{Total: len(deliveries)}

	for i, dl := range deliveries {
		if _, err := d.store.InsertNotification(ctx, &dl.record); err != nil {
			d.abandon(ctx, deliveries[:i], err)
			outcome.Failed = outcome.Total
			return outcome, fmt.Errorf("recording pending notification: %w", err)
		}
	}

	var (
		mu       sync.Mutex
		storeErr []error
		g        errgroup.Group
	)
	g.SetLimit(d.maxParallel)

	for _, dl := range deliveries {
		g.Go(func() error {
			start := time.Now()
			result := d.attempt(ctx, dl)

			if err := d.store.CompleteNotification(ctx, dl.record.ID, result); err != nil {
				mu.Lock()
				storeErr = append(storeErr, fmt.Errorf("completing notification %d: %w", dl.record.ID, err))
				mu.Unlock()
			}
			dl.record.Status = result.Status
			dl.record.Error = result.Error
			dl.record.MessageID = result.MessageID
			if result.Status == models.StatusSent {
				sentAt := result.SentAt
				dl.record.SentAt = &sentAt
			}
			if d.observer != nil {
				d.observer.ObserveDelivery(dl.record.Channel, result.Status, time.Since(start))
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome.Records = make([]models.NotificationRecord, len(deliveries))
	for i, dl := range deliveries {
		outcome.Records[i] = dl.record
		if dl.record.Status == models.StatusSent {
			outcome.Sent++
		} else {
			outcome.Failed++
		}
	}
	return outcome, errors.Join(storeErr...)
}

// abandon fails records that were written before the dispatch had to stop,
// so no record stays pending.
func (d *Dispatcher) abandon(ctx context.Context, written []*delivery, cause error) {
	for _, dl := range written {
		result := storage.DeliveryResult{Status: models.StatusFailed, Error: "dispatch aborted: " + cause.Error()}
		if err := d.store.CompleteNotification(ctx, dl.record.ID, result); err != nil {
			logger.Error("Failed to abandon notification %d: %v", dl.record.ID, err)
		}
	}
}

// attempt performs one send and maps it to a terminal result.
func (d *Dispatcher) attempt(ctx context.Context, dl *delivery) storage.DeliveryResult {
	messageID, err := dl.transport.Send(ctx, dl.record.Recipient, dl.record.Message)
	if err != nil {
		logger.Warn("Delivery to %s via %s failed: %v", dl.record.Recipient, dl.record.Channel, err)
		return storage.DeliveryResult{
			Status: models.StatusFailed,
			Error:  fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err).Error(),
		}
	}
	return storage.DeliveryResult{
		Status:    models.StatusSent,
		SentAt:    d.now().UTC(),
		MessageID: messageID,
	}
}

func (d *Dispatcher) finish(event *models.SeismicEvent, outcome models.DispatchOutcome) models.DispatchOutcome {
	if d.observer != nil {
		d.observer.ObserveDispatch(event.EventType, outcome)
	}
	return outcome
}
