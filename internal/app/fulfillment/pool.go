// Package fulfillment executes PROCESSING redemptions asynchronously.
//
// The pool:
//  1. Accepts redemptions from the state machine (bounded by a semaphore)
//  2. Routes to the backend registered for the item type
//  3. Runs the backend under a timeout
//  4. Reports the outcome back through the machine's completion callback
//
// Backends are pluggable. The shipped ones simulate voucher issuance and
// merchandise shipment; a production deployment swaps in real vendor
// integrations behind the same interface.
package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
)

// Backend executes one fulfillment (issue a voucher, create a shipment).
// It returns a vendor reference on success.
type Backend interface {
	Fulfill(ctx context.Context, r domain.Redemption) (ref string, err error)
}

// Completer receives fulfillment outcomes. Implemented by the redemption
// state machine.
type Completer interface {
	HandleFulfillment(ctx context.Context, redemptionID string, ok bool, reason string) error
}

// Config controls pool behavior.
type Config struct {
	MaxConcurrent  int           // maximum concurrent fulfillments (default: 4)
	DefaultTimeout time.Duration // per-fulfillment timeout (default: 2m)
}

// DefaultConfig returns safe pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		DefaultTimeout: 2 * time.Minute,
	}
}

// Pool is a bounded worker pool for redemption fulfillment.
type Pool struct {
	mu        sync.RWMutex
	config    Config
	completer Completer
	backends  map[domain.ItemType]Backend
	sem       chan struct{} // concurrency semaphore
	wg        sync.WaitGroup
	log       *slog.Logger
	active    int
	completed int64
	failed    int64
}

// New creates a fulfillment pool reporting outcomes to the completer.
func New(cfg Config, completer Completer, log *slog.Logger) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Pool{
		config:    cfg,
		completer: completer,
		backends:  make(map[domain.ItemType]Backend),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		log:       log.With("component", "fulfillment"),
	}
}

// RegisterBackend registers a backend for an item type.
func (p *Pool) RegisterBackend(itemType domain.ItemType, backend Backend) {
	p.mu.Lock()
	p.backends[itemType] = backend
	p.mu.Unlock()
}

// Enqueue accepts a redemption for asynchronous fulfillment. Returns
// immediately; an error means the pool is at capacity and the caller's
// watchdog will eventually fail the redemption.
func (p *Pool) Enqueue(r domain.Redemption) error {
	select {
	case p.sem <- struct{}{}:
	default:
		return fmt.Errorf("fulfillment pool at capacity (%d concurrent)", p.config.MaxConcurrent)
	}

	p.wg.Add(1)
	go p.fulfill(r)
	return nil
}

// fulfill runs one redemption through its backend and reports the outcome.
func (p *Pool) fulfill(r domain.Redemption) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	observability.FulfillmentQueueDepth.Inc()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		observability.FulfillmentQueueDepth.Dec()
	}()

	p.mu.RLock()
	backend, ok := p.backends[r.ItemType]
	p.mu.RUnlock()
	if !ok {
		p.report(r.ID, false, fmt.Sprintf("no backend for item type %s", r.ItemType))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DefaultTimeout)
	defer cancel()

	start := time.Now()
	ref, err := backend.Fulfill(ctx, r)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		observability.FulfillmentDuration.WithLabelValues(string(r.ItemType), "error").Observe(elapsed)
		p.report(r.ID, false, err.Error())
		return
	}

	observability.FulfillmentDuration.WithLabelValues(string(r.ItemType), "ok").Observe(elapsed)
	p.log.Info("fulfillment succeeded",
		"redemption_id", r.ID, "item_type", r.ItemType, "vendor_ref", ref)
	p.report(r.ID, true, "")
}

// report delivers the outcome to the state machine and tracks counters.
func (p *Pool) report(redemptionID string, ok bool, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.completer.HandleFulfillment(ctx, redemptionID, ok, reason); err != nil {
		p.log.Error("fulfillment callback failed",
			"redemption_id", redemptionID, "ok", ok, "error", err)
	}

	p.mu.Lock()
	if ok {
		p.completed++
	} else {
		p.failed++
	}
	p.mu.Unlock()
}

// Wait blocks until all in-flight fulfillments finish. Used by graceful
// shutdown and tests.
func (p *Pool) Wait() { p.wg.Wait() }

// Stats reports pool counters.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Active:    p.active,
		Completed: p.completed,
		Failed:    p.failed,
		MaxSlots:  p.config.MaxConcurrent,
		FreeSlots: p.config.MaxConcurrent - p.active,
	}
}
