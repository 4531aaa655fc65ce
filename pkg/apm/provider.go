// Provider contract for pluggable APM backends.
// A provider decides how queued trace payloads are combined and where batches go.
package apm

import "errors"

// ErrUnknownProvider is returned when a provider name has no registered factory.
var ErrUnknownProvider = errors.New("unknown provider")

// TracePayload is one completed trace as an opaque key-value record.
// The accumulator never interprets its contents; an empty payload is ignored.
type TracePayload map[string]any

// Provider is a pluggable APM backend. Implementations are configured once
// via Configure and must be safe to call from request-completion paths.
type Provider interface {
	// Name identifies the provider and keys its batch bucket.
	Name() string

	// Configure applies settings (endpoint, credentials, sampling) to the
	// provider. Called once before first use.
	Configure(settings *Settings) error

	// Enabled reports whether tracing is switched on for this provider.
	Enabled() bool

	// SampleRate returns the fraction of requests to trace, in [0, 1].
	SampleRate() float64

	// CombinePayloads merges queued payloads into a single outbound batch
	// body. An empty result means there is nothing worth sending.
	CombinePayloads(payloads []TracePayload) (map[string]any, error)

	// BatchEndpoint returns the URL batches are posted to. Empty means the
	// provider is misconfigured; the pending batch is dropped with a log.
	BatchEndpoint() string

	// BatchHeaders returns headers attached to every batch request.
	BatchHeaders() map[string]string
}
