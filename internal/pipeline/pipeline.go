// Package pipeline runs every sample through classification, aftershock
// estimation and notification dispatch.
//
// Per event the stages are strictly ordered: the event is stored before it
// is estimated, and estimated before anything is dispatched. Different
// events carry no ordering guarantee. Ingest stores synchronously and hands
// the remaining stages to a bounded worker pool so slow transports never
// block sample intake.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
)

// ErrStopped is returned by Ingest after Stop.
var ErrStopped = errors.New("pipeline stopped")

// Classifier validates, classifies and stores a sample.
type Classifier interface {
	Classify(ctx context.Context, sample models.Sample, settings models.Settings) (*models.SeismicEvent, error)
}

// Estimator computes and stores an aftershock analysis for an earthquake.
type Estimator interface {
	Estimate(ctx context.Context, event *models.SeismicEvent, settings models.Settings) (*models.AftershockAnalysis, error)
}

// Dispatcher delivers alerts subject to the cooldown.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.SeismicEvent, aftershockProbability float64, settings models.Settings) (models.DispatchOutcome, error)
}

// EventFlags sets the one-shot event flags.
type EventFlags interface {
	MarkProcessed(ctx context.Context, id int64) error
	MarkNotificationSent(ctx context.Context, id int64) error
}

// SettingsSource hands out immutable settings snapshots.
type SettingsSource interface {
	Snapshot() models.Settings
}

// OpsNotifier is told when the pipeline starts and stops failing.
type OpsNotifier interface {
	SendError(err error) error
	SendRecovery(failures int, downtime time.Duration) error
}

// Observer receives pipeline measurements.
type Observer interface {
	ObserveEvent(eventType models.EventType)
	ObserveIngestError(reason string)
	ObserveAnalysis(probability float64)
	ObserveQueueDepth(depth int)
	ObserveLatency(elapsed time.Duration)
}

// Result describes one pass through the pipeline.
type Result struct {
	Event    *models.SeismicEvent
	Analysis *models.AftershockAnalysis
	// AnalysisErr is set when an earthquake could not be estimated. The
	// event then stays unprocessed and the alert carries no aftershock part.
	AnalysisErr error
	// Outcome is nil when no dispatch was attempted.
	Outcome *models.DispatchOutcome
}

type job struct {
	event    *models.SeismicEvent
	settings models.Settings
	received time.Time
}

// Pipeline wires the stages together.
type Pipeline struct {
	classifier Classifier
	estimator  Estimator
	dispatcher Dispatcher
	flags      EventFlags
	settings   SettingsSource

	notifyVibrations bool
	workers          int
	ops              OpsNotifier
	observer         Observer

	queue   chan job
	mu      sync.RWMutex
	stopped bool
	start   sync.Once
	wg      sync.WaitGroup

	health health
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the worker count and the queue capacity.
func WithWorkers(workers, queueSize int) Option {
	return func(p *Pipeline) {
		if workers > 0 {
			p.workers = workers
		}
		if queueSize > 0 {
			p.queue = make(chan job, queueSize)
		}
	}
}

// WithNotifyVibrations enables alerts for vibration events.
func WithNotifyVibrations(enabled bool) Option {
	return func(p *Pipeline) { p.notifyVibrations = enabled }
}

// WithOpsNotifier attaches an ops channel for failure and recovery alerts.
func WithOpsNotifier(ops OpsNotifier) Option {
	return func(p *Pipeline) { p.ops = ops }
}

// WithObserver attaches an observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New creates a Pipeline. Queued jobs run once Start is called.
func New(classifier Classifier, estimator Estimator, dispatcher Dispatcher, flags EventFlags, settings SettingsSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier: classifier,
		estimator:  estimator,
		dispatcher: dispatcher,
		flags:      flags,
		settings:   settings,
		workers:    4,
		queue:      make(chan job, 256),
		health:     health{now: time.Now},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs all stages for one sample in the caller's goroutine.
func (p *Pipeline) Process(ctx context.Context, sample models.Sample) (*Result, error) {
	start := time.Now()
	settings := p.settings.Snapshot()

	event, err := p.classify(ctx, sample, settings)
	if err != nil {
		return nil, err
	}

	res, err := p.followUp(ctx, event, settings)
	p.observeLatency(start)
	return res, err
}

// Ingest classifies and stores the sample, then queues the remaining stages.
// It blocks while the queue is full until ctx is done.
func (p *Pipeline) Ingest(ctx context.Context, sample models.Sample) (*models.SeismicEvent, error) {
	received := time.Now()
	settings := p.settings.Snapshot()

	event, err := p.classify(ctx, sample, settings)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return event, fmt.Errorf("queueing event %d: %w", event.ID, ErrStopped)
	}

	select {
	case p.queue <- job{event: event, settings: settings, received: received}:
		if p.observer != nil {
			p.observer.ObserveQueueDepth(len(p.queue))
		}
		return event, nil
	case <-ctx.Done():
		logger.Warn("Event %d stored but not queued: %v", event.ID, ctx.Err())
		return event, fmt.Errorf("queueing event %d: %w", event.ID, ctx.Err())
	}
}

// Start launches the workers. Jobs keep running after ctx is cancelled so
// Stop can drain the queue.
func (p *Pipeline) Start(ctx context.Context) {
	p.start.Do(func() {
		jobCtx := context.WithoutCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for j := range p.queue {
					p.run(jobCtx, j)
				}
			}()
		}
		logger.Info("Pipeline started with %d workers (queue capacity %d)", p.workers, cap(p.queue))
	})
}

// Stop rejects new samples and waits for queued jobs to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("Pipeline stopped")
}

func (p *Pipeline) run(ctx context.Context, j job) {
	if p.observer != nil {
		p.observer.ObserveQueueDepth(len(p.queue))
	}
	if _, err := p.followUp(ctx, j.event, j.settings); err != nil {
		logger.Error("Pipeline failed for event %d: %v", j.event.ID, err)
	}
	p.observeLatency(j.received)
}

func (p *Pipeline) classify(ctx context.Context, sample models.Sample, settings models.Settings) (*models.SeismicEvent, error) {
	event, err := p.classifier.Classify(ctx, sample, settings)
	if err != nil {
		if p.observer != nil {
			p.observer.ObserveIngestError(Reason(err))
		}
		p.report(err)
		return nil, err
	}
	if p.observer != nil {
		p.observer.ObserveEvent(event.EventType)
	}
	return event, nil
}

// followUp runs estimation and dispatch for a stored event.
func (p *Pipeline) followUp(ctx context.Context, event *models.SeismicEvent, settings models.Settings) (*Result, error) {
	res, err := p.followUpStages(ctx, event, settings)
	p.report(err)
	return res, err
}

func (p *Pipeline) followUpStages(ctx context.Context, event *models.SeismicEvent, settings models.Settings) (*Result, error) {
	res := &Result{Event: event}

	var probability float64
	if event.IsEarthquake() {
		analysis, err := p.estimator.Estimate(ctx, event, settings)
		if err != nil {
			logger.Warn("Aftershock estimate for event %d unavailable: %v", event.ID, err)
			res.AnalysisErr = err
		} else {
			res.Analysis = analysis
			probability = analysis.ProbabilityPercentage
			if p.observer != nil {
				p.observer.ObserveAnalysis(probability)
			}
		}
	}

	if res.AnalysisErr == nil {
		if err := p.flags.MarkProcessed(ctx, event.ID); err != nil {
			return res, fmt.Errorf("marking event %d processed: %w", event.ID, err)
		}
		event.Processed = true
	}

	if !event.IsEarthquake() && !p.notifyVibrations {
		return res, nil
	}

	outcome, dispatchErr := p.dispatcher.Dispatch(ctx, event, probability, settings)
	res.Outcome = &outcome

	if !outcome.Skipped && outcome.Total > 0 {
		if err := p.flags.MarkNotificationSent(ctx, event.ID); err != nil {
			return res, errors.Join(dispatchErr, fmt.Errorf("marking event %d notified: %w", event.ID, err))
		}
		event.NotificationSent = true
	}
	if dispatchErr != nil {
		return res, fmt.Errorf("dispatching event %d: %w", event.ID, dispatchErr)
	}
	return res, nil
}

func (p *Pipeline) observeLatency(start time.Time) {
	if p.observer != nil {
		p.observer.ObserveLatency(time.Since(start))
	}
}

// report feeds the outcome of a pipeline pass into the failure tracker.
// Only store failures count; bad samples say nothing about pipeline health.
func (p *Pipeline) report(err error) {
	switch {
	case err == nil:
		if failures, downtime, recovered := p.health.success(); recovered {
			logger.Info("Pipeline recovered after %d consecutive failures", failures)
			if p.ops != nil {
				if sendErr := p.ops.SendRecovery(failures, downtime); sendErr != nil {
					logger.Warn("Failed to send recovery notification: %v", sendErr)
				}
			}
		}
	case errors.Is(err, models.ErrStoreUnavailable):
		if first := p.health.failure(); first && p.ops != nil {
			if sendErr := p.ops.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
	}
}

// Reason maps an ingest error to a short label.
func Reason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// health counts consecutive store failures.
type health struct {
	mu       sync.Mutex
	failures int
	since    time.Time
	now      func() time.Time
}

// failure records a failure and reports whether it starts a failure streak.
func (h *health) failure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	if h.failures == 1 {
		h.since = h.now()
		return true
	}
	return false
}

// success ends a failure streak, returning its length and duration.
func (h *health) success() (int, time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures == 0 {
		return 0, 0, false
	}
	failures, downtime := h.failures, h.now().Sub(h.since)
	h.failures = 0
	return failures, downtime, true
}
