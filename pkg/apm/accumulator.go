// Time-windowed trace batch accumulator shared across provider instances.
// Collects trace payloads per provider and flushes them in batches to cut
// outbound HTTP calls. One accumulator is meant to live as long as the
// process; pass it to every provider integration point rather than hiding
// it behind package state.
package apm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Outcome classifies the result of a batch send attempt.
type Outcome int

// Send outcomes.
const (
	OutcomeNothingToSend      Outcome = iota // bucket was empty
	OutcomeSent                              // batch delivered, bucket cleared
	OutcomeDroppedEmptyCombine               // provider combined to nothing, bucket cleared
	OutcomeDroppedNoEndpoint                 // provider has no endpoint, bucket cleared
	OutcomeTransportFailed                   // delivery failed, bucket retained for retry
)

// String returns a short label for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeNothingToSend:
		return "nothing_to_send"
	case OutcomeSent:
		return "sent"
	case OutcomeDroppedEmptyCombine:
		return "dropped_empty_combine"
	case OutcomeDroppedNoEndpoint:
		return "dropped_no_endpoint"
	case OutcomeTransportFailed:
		return "transport_failed"
	}
	return "unknown"
}

// SendResult reports what a send attempt did. Err is set only for
// OutcomeTransportFailed and is informational: callers log and discard,
// a failed send never propagates into request handling.
type SendResult struct {
	Outcome  Outcome
	Provider string
	Traces   int
	Status   int
	Err      error
}

// Accumulator queues trace payloads per provider and sends them in batches
// once the send interval has elapsed. All methods are safe for concurrent
// use; the HTTP delivery itself happens outside the accumulator lock.
//
// By default a single clock governs all providers: any completed send
// attempt resets the interval for every bucket. PerProviderTimer switches
// to an independent clock per provider.
type Accumulator struct {
	mu        sync.Mutex
	buckets   map[string][]TracePayload
	sent      map[string]int64
	lastSend  time.Time            // shared clock, zero until primed
	perLast   map[string]time.Time // per-provider clocks when enabled
	perTimers bool

	interval time.Duration
	client   BatchClient
	log      *slog.Logger
	now      func() time.Time
}

// AccumulatorOption adjusts accumulator construction.
type AccumulatorOption func(*Accumulator)

// WithBatchClient replaces the HTTP client used for delivery.
func WithBatchClient(c BatchClient) AccumulatorOption {
	return func(a *Accumulator) { a.client = c }
}

// WithLogger replaces the diagnostic logger.
func WithLogger(l *slog.Logger) AccumulatorOption {
	return func(a *Accumulator) { a.log = l }
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) { a.now = now }
}

// PerProviderTimer gives each provider its own interval clock instead of
// the shared one, so one provider's flush no longer resets the window for
// the rest.
func PerProviderTimer(enabled bool) AccumulatorOption {
	return func(a *Accumulator) { a.perTimers = enabled }
}

// NewAccumulator builds an accumulator. The send interval is resolved from
// settings once, clamped to MinSendInterval, and never re-read.
func NewAccumulator(settings *Settings, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		buckets:  make(map[string][]TracePayload),
		sent:     make(map[string]int64),
		perLast:  make(map[string]time.Time),
		interval: resolveSendInterval(settings),
		client:   NewHTTPBatchClient(DefaultConnectTimeout, DefaultTotalTimeout),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SendInterval returns the resolved, immutable send interval.
func (a *Accumulator) SendInterval() time.Duration {
	return a.interval
}

// AddTrace appends a payload to the provider's bucket. An empty payload is
// ignored: no bucket is created and the clock is untouched. The very first
// non-empty add primes the interval clock without triggering a send.
// AddTrace never fails; it is safe on span-completion hot paths.
func (a *Accumulator) AddTrace(provider string, payload TracePayload) {
	if len(payload) == 0 || provider == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.buckets[provider] = append(a.buckets[provider], payload)
	if a.clockFor(provider).IsZero() {
		a.touchClock(provider)
	}
}

// ShouldSend reports whether the provider's batch window has elapsed.
// Returns false when nothing is queued anywhere. An unset clock is primed
// to now and reported as not due, deferring the first send by one full
// interval so startup never flushes immediately.
func (a *Accumulator) ShouldSend(provider string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shouldSendLocked(provider)
}

func (a *Accumulator) shouldSendLocked(provider string) bool {
	if !a.anyQueuedLocked() {
		return false
	}
	last := a.clockFor(provider)
	if last.IsZero() {
		a.touchClock(provider)
		return false
	}
	return a.now().Sub(last) >= a.interval
}

// anyQueuedLocked reports whether any provider has pending payloads.
func (a *Accumulator) anyQueuedLocked() bool {
	for _, b := range a.buckets {
		if len(b) > 0 {
			return true
		}
	}
	return false
}

// clockFor returns the relevant last-send time for a provider.
func (a *Accumulator) clockFor(provider string) time.Time {
	if a.perTimers {
		return a.perLast[provider]
	}
	return a.lastSend
}

// touchClock marks a completed send attempt (or the priming add) at now.
func (a *Accumulator) touchClock(provider string) {
	if a.perTimers {
		a.perLast[provider] = a.now()
		return
	}
	a.lastSend = a.now()
}

// SendIfDue sends the provider's batch when the interval has elapsed and
// does nothing otherwise. Call it after request completion.
func (a *Accumulator) SendIfDue(ctx context.Context, p Provider) SendResult {
	a.mu.Lock()
	due := a.shouldSendLocked(p.Name())
	var wait time.Duration
	if !due {
		if last := a.clockFor(p.Name()); !last.IsZero() {
			wait = a.interval - a.now().Sub(last)
		}
	}
	a.mu.Unlock()

	if !due {
		a.log.Debug("batch not due", "provider", p.Name(), "wait", wait)
		return SendResult{Outcome: OutcomeNothingToSend, Provider: p.Name()}
	}
	return a.SendBatch(ctx, p)
}

// ForceSend bypasses the interval gate and sends whatever is queued.
// Intended for process or request shutdown so a partial batch is not lost.
func (a *Accumulator) ForceSend(ctx context.Context, p Provider) SendResult {
	res := a.SendBatch(ctx, p)
	if res.Outcome == OutcomeNothingToSend {
		a.log.Debug("force send: nothing queued", "provider", p.Name())
	} else {
		a.log.Info("force send", "provider", p.Name(), "outcome", res.Outcome.String(), "traces", res.Traces)
	}
	return res
}

// SendBatch runs the full send/clear protocol for one provider:
// snapshot the bucket, ask the provider to combine it, post the combined
// payload, then clear on success or definitive drop and restore the
// snapshot on transport failure. Failures terminate in the returned
// SendResult and a log line; SendBatch never panics into the caller.
func (a *Accumulator) SendBatch(ctx context.Context, p Provider) SendResult {
	name := p.Name()

	a.mu.Lock()
	batch := a.buckets[name]
	if len(batch) == 0 {
		a.mu.Unlock()
		return SendResult{Outcome: OutcomeNothingToSend, Provider: name}
	}
	// Detach the bucket so new payloads queue separately while the send is
	// in flight. On failure the snapshot is prepended back, preserving order.
	delete(a.buckets, name)
	a.mu.Unlock()

	res := a.deliver(ctx, p, batch)

	a.mu.Lock()
	switch res.Outcome {
	case OutcomeSent:
		a.sent[name] += int64(len(batch))
		a.touchClock(name)
	case OutcomeDroppedEmptyCombine, OutcomeDroppedNoEndpoint:
		a.touchClock(name)
	case OutcomeTransportFailed:
		a.buckets[name] = append(batch, a.buckets[name]...)
	}
	a.mu.Unlock()

	a.logResult(res)
	return res
}

// deliver combines and posts a detached batch. It holds no locks.
func (a *Accumulator) deliver(ctx context.Context, p Provider, batch []TracePayload) SendResult {
	name := p.Name()
	res := SendResult{Provider: name, Traces: len(batch)}

	combined, err := p.CombinePayloads(batch)
	if err != nil {
		res.Outcome = OutcomeTransportFailed
		res.Err = fmt.Errorf("combining payloads: %w", err)
		return res
	}
	if len(combined) == 0 {
		res.Outcome = OutcomeDroppedEmptyCombine
		return res
	}

	endpoint := p.BatchEndpoint()
	if endpoint == "" {
		res.Outcome = OutcomeDroppedNoEndpoint
		return res
	}

	body, err := json.Marshal(combined)
	if err != nil {
		res.Outcome = OutcomeTransportFailed
		res.Err = fmt.Errorf("encoding batch: %w", err)
		return res
	}

	resp, err := a.client.Post(ctx, endpoint, p.BatchHeaders(), body)
	if err != nil {
		res.Outcome = OutcomeTransportFailed
		res.Err = err
		return res
	}
	res.Status = resp.StatusCode
	if !resp.Delivered() {
		res.Outcome = OutcomeTransportFailed
		res.Err = fmt.Errorf("batch rejected with status %d: %s", resp.StatusCode, resp.Body)
		return res
	}

	res.Outcome = OutcomeSent
	return res
}

func (a *Accumulator) logResult(res SendResult) {
	switch res.Outcome {
	case OutcomeSent:
		a.log.Info("batch sent", "provider", res.Provider, "traces", res.Traces, "status", res.Status)
	case OutcomeDroppedEmptyCombine:
		a.log.Debug("batch combined to nothing, dropped", "provider", res.Provider, "traces", res.Traces)
	case OutcomeDroppedNoEndpoint:
		a.log.Error("no batch endpoint configured, dropping batch", "provider", res.Provider, "traces", res.Traces)
	case OutcomeTransportFailed:
		a.log.Warn("batch send failed, retrying next interval", "provider", res.Provider, "traces", res.Traces, "error", res.Err)
	}
}

// QueueDepth returns the number of payloads queued for a provider.
func (a *Accumulator) QueueDepth(provider string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets[provider])
}

// Pending returns a copy of the provider's queued payloads, in order.
func (a *Accumulator) Pending(provider string) []TracePayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.buckets[provider])
}

// TotalSent returns the diagnostic count of traces delivered for a
// provider over the accumulator's lifetime.
func (a *Accumulator) TotalSent(provider string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent[provider]
}
