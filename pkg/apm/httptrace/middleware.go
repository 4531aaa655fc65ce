// Request tracing middleware: turns completed HTTP requests into trace
// payloads and feeds them to the batch accumulator.
package httptrace

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/google/uuid"
)

// defaultMaxBody bounds how much request body is captured per trace.
const defaultMaxBody = 8 << 10

// defaultHeaders are the request headers recorded on every trace.
var defaultHeaders = []string{"User-Agent", "Content-Type", "X-Request-Id"}

// Tracer wraps handlers so that sampled requests produce trace payloads.
// All tracing failures are logged and swallowed: a broken APM backend must
// never fail the application's responses.
type Tracer struct {
	provider apm.Provider
	acc      *apm.Accumulator
	log      *slog.Logger
	maxBody  int64
	headers  []string
	sample   func() float64
	now      func() time.Time
}

// Option adjusts tracer construction.
type Option func(*Tracer)

// WithLogger replaces the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) { t.log = l }
}

// WithMaxBody bounds captured request bodies. Zero or negative disables
// body capture.
func WithMaxBody(n int64) Option {
	return func(t *Tracer) { t.maxBody = n }
}

// WithHeaders sets which request headers are recorded.
func WithHeaders(names []string) Option {
	return func(t *Tracer) { t.headers = names }
}

// WithSampleSource replaces the sampling random source. Intended for tests.
func WithSampleSource(f func() float64) Option {
	return func(t *Tracer) { t.sample = f }
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// New builds a Tracer feeding the given provider's bucket.
func New(p apm.Provider, acc *apm.Accumulator, opts ...Option) *Tracer {
	t := &Tracer{
		provider: p,
		acc:      acc,
		log:      slog.Default(),
		maxBody:  defaultMaxBody,
		headers:  defaultHeaders,
		sample:   rand.Float64, //nolint:gosec // sampling decision, not security-sensitive
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// statusRecorder captures the response status written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware wraps next with request tracing. The trace is recorded after
// the response is written, then a due batch send is attempted.
func (t *Tracer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.shouldTrace() {
			next.ServeHTTP(w, r)
			return
		}

		captured := apm.CaptureRequest(r, t.maxBody)
		rec := &statusRecorder{ResponseWriter: w}
		start := t.now()

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		t.acc.AddTrace(t.provider.Name(), t.buildPayload(captured, rec.status, t.now().Sub(start)))
		t.acc.SendIfDue(r.Context(), t.provider)
	})
}

// shouldTrace applies enablement and the sample-rate coin flip.
func (t *Tracer) shouldTrace() bool {
	if !t.provider.Enabled() {
		return false
	}
	rate := t.provider.SampleRate()
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return t.sample() < rate
}

// buildPayload shapes one completed request into a trace payload.
func (t *Tracer) buildPayload(req apm.Request, status int, elapsed time.Duration) apm.TracePayload {
	payload := apm.TracePayload{
		"trace_id":    uuid.NewString(),
		"type":        "http.request",
		"method":      req.Method(),
		"uri":         req.URI(),
		"status":      status,
		"duration_ms": float64(elapsed) / float64(time.Millisecond),
		"timestamp":   t.now().UTC().Format(time.RFC3339Nano),
	}

	headers := map[string]string{}
	for _, name := range t.headers {
		if v := req.Header(name); v != "" {
			headers[name] = v
		}
	}
	if len(headers) > 0 {
		payload["headers"] = headers
	}
	if body := req.Body(); len(body) > 0 {
		payload["body"] = string(body)
	}
	return payload
}
