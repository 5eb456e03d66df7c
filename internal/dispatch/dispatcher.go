// Package dispatch queues ingested events and delivers them to the trigger
// handlers with at-least-once, unordered semantics and capped exponential
// backoff between retries.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"wemirror/internal/config"
	"wemirror/internal/mirror"
)

// ErrQueueFull is returned by Submit when the delivery queue is at capacity.
// Callers surface this as backpressure (HTTP 503) rather than blocking.
var ErrQueueFull = errors.New("dispatch queue full")

// Sink receives deliveries. mirror.Service implements this.
type Sink interface {
	HandleIdentityCreated(ctx context.Context, id mirror.Identity) error
	HandleDocumentChange(ctx context.Context, c mirror.DocumentChange) error
}

// Config holds dispatcher tuning. The zero value is unusable; build one
// with FromConfig or fill every field.
type Config struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	Backoff     BackoffConfig
}

// FromConfig converts the TOML dispatch section, applying defaults for
// unset fields.
func FromConfig(cfg config.DispatchConfig) Config {
	out := Config{
		QueueSize:   cfg.QueueSize,
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		Backoff: BackoffConfig{
			InitialDelay: time.Duration(cfg.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.MaxDelayMS) * time.Millisecond,
			Multiplier:   cfg.Multiplier,
			Jitter:       cfg.Jitter,
		},
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 1024
	}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.Backoff.InitialDelay <= 0 {
		out.Backoff.InitialDelay = 100 * time.Millisecond
	}
	if out.Backoff.Multiplier < 1.0 {
		out.Backoff.Multiplier = 2.0
	}
	return out
}

// delivery is one queued event. Exactly one of identity/document is set.
type delivery struct {
	id       string
	identity *mirror.Identity
	document *mirror.DocumentChange
}

// Dispatcher fans queued events out to worker goroutines that invoke the
// sink, retrying failed deliveries. Ordering is not guaranteed, even per
// document.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger mirror.Logger
	idgen  mirror.IDGenerator

	queue chan delivery
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a Dispatcher. Call Start before submitting.
func New(cfg Config, sink Sink, logger mirror.Logger, idgen mirror.IDGenerator) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		idgen:  idgen,
		queue:  make(chan delivery, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. ctx cancellation aborts in-flight
// retry waits; queued deliveries are still drained on Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		go d.worker(ctx, rng)
	}
}

// Stop closes the queue and waits for workers to drain it.
// Submit must not be called after Stop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.queue)
	d.wg.Wait()
}

// SubmitIdentityCreated enqueues an identity-created event.
// Returns the delivery id for log correlation.
func (d *Dispatcher) SubmitIdentityCreated(id mirror.Identity) (string, error) {
	return d.submit(delivery{id: d.idgen.New(), identity: &id})
}

// SubmitDocumentChange enqueues a document-changed event.
// Returns the delivery id for log correlation.
func (d *Dispatcher) SubmitDocumentChange(c mirror.DocumentChange) (string, error) {
	return d.submit(delivery{id: d.idgen.New(), document: &c})
}

func (d *Dispatcher) submit(dv delivery) (string, error) {
	select {
	case d.queue <- dv:
		return dv.id, nil
	default:
		return "", ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, rng *rand.Rand) {
	defer d.wg.Done()
	for dv := range d.queue {
		d.deliver(ctx, dv, rng)
	}
}

// deliver invokes the sink for one delivery, retrying with backoff until it
// succeeds, attempts run out, or the context is cancelled.
func (d *Dispatcher) deliver(ctx context.Context, dv delivery, rng *rand.Rand) {
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.invoke(ctx, dv)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("delivery succeeded after retry", "delivery", dv.id, "attempt", attempt)
			}
			return
		}

		if attempt == d.cfg.MaxAttempts {
			d.logger.Error("delivery dead-lettered", "delivery", dv.id, "attempts", attempt, "error", err)
			return
		}

		d.logger.Warn("delivery failed, will retry", "delivery", dv.id, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			d.logger.Warn("delivery abandoned on shutdown", "delivery", dv.id, "attempt", attempt)
			return
		case <-time.After(NextBackoffDelay(d.cfg.Backoff, attempt, rng)):
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, dv delivery) error {
	if dv.identity != nil {
		return d.sink.HandleIdentityCreated(ctx, *dv.identity)
	}
	return d.sink.HandleDocumentChange(ctx, *dv.document)
}
