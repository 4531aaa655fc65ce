// Tests for the request tracing middleware: sampling, payload shape, and
// the never-break-the-response policy.
package httptrace

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	enabled bool
	rate    float64
}

func (p *fakeProvider) Name() string                    { return "fake" }
func (p *fakeProvider) Configure(*apm.Settings) error   { return nil }
func (p *fakeProvider) Enabled() bool                   { return p.enabled }
func (p *fakeProvider) SampleRate() float64             { return p.rate }
func (p *fakeProvider) BatchEndpoint() string           { return "http://apm.example/batch" }
func (p *fakeProvider) BatchHeaders() map[string]string { return nil }

func (p *fakeProvider) CombinePayloads(payloads []apm.TracePayload) (map[string]any, error) {
	return map[string]any{"traces": payloads}, nil
}

type recordingClient struct {
	calls int
}

func (c *recordingClient) Post(context.Context, string, map[string]string, []byte) (*apm.BatchResponse, error) {
	c.calls++
	return &apm.BatchResponse{StatusCode: 200}, nil
}

func newTestTracer(p apm.Provider, opts ...Option) (*Tracer, *apm.Accumulator, *recordingClient) {
	client := &recordingClient{}
	acc := apm.NewAccumulator(apm.NewSettings(map[string]string{apm.KeySendInterval: "5"}),
		apm.WithBatchClient(client),
		apm.WithLogger(slog.New(slog.DiscardHandler)),
	)
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(p, acc, opts...), acc, client
}

func serve(t *testing.T, tracer *Tracer, req *http.Request, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	tracer.Middleware(handler).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func TestTracedRequestQueuesPayload(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: true, rate: 1}
	tracer, acc, _ := newTestTracer(p)

	req := httptest.NewRequest("POST", "http://app.test/orders?limit=5", strings.NewReader(`{"sku":"a"}`))
	req.Header.Set("User-Agent", "test-agent")
	rec := serve(t, tracer, req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, acc.QueueDepth("fake"))

	payload := acc.Pending("fake")[0]
	assert.Equal(t, "POST", payload["method"])
	assert.Equal(t, "/orders?limit=5", payload["uri"])
	assert.Equal(t, http.StatusCreated, payload["status"])
	assert.Equal(t, `{"sku":"a"}`, payload["body"])
	assert.NotEmpty(t, payload["trace_id"])

	headers, ok := payload["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "test-agent", headers["User-Agent"])
}

func TestImplicitStatusIsRecorded(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: true, rate: 1}
	tracer, acc, _ := newTestTracer(p)

	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)

	payload := acc.Pending("fake")[0]
	assert.Equal(t, http.StatusOK, payload["status"], "Write without WriteHeader implies 200")
}

func TestDisabledProviderSkipsTracing(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: false, rate: 1}
	tracer, acc, _ := newTestTracer(p)

	rec := serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)

	assert.Equal(t, http.StatusOK, rec.Code, "handler still runs untraced")
	assert.Equal(t, 0, acc.QueueDepth("fake"))
}

func TestSampleRateZeroTracesNothing(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: true, rate: 0}
	tracer, acc, _ := newTestTracer(p)

	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)
	assert.Equal(t, 0, acc.QueueDepth("fake"))
}

func TestSampleRateCoinFlip(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: true, rate: 0.5}

	tracer, acc, _ := newTestTracer(p, WithSampleSource(func() float64 { return 0.4 }))
	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)
	assert.Equal(t, 1, acc.QueueDepth("fake"), "0.4 < 0.5 is sampled")

	tracer, acc, _ = newTestTracer(p, WithSampleSource(func() float64 { return 0.6 }))
	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)
	assert.Equal(t, 0, acc.QueueDepth("fake"), "0.6 >= 0.5 is not sampled")
}

func TestDurationUsesClock(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: true, rate: 1}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(150 * time.Millisecond), base.Add(150 * time.Millisecond)}
	tracer, acc, _ := newTestTracer(p, WithClock(func() time.Time {
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return next
	}))

	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)

	payload := acc.Pending("fake")[0]
	assert.Equal(t, 150.0, payload["duration_ms"])
}

func TestDueBatchSendsAfterResponse(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &recordingClient{}
	acc := apm.NewAccumulator(apm.NewSettings(map[string]string{apm.KeySendInterval: "5"}),
		apm.WithBatchClient(client),
		apm.WithLogger(slog.New(slog.DiscardHandler)),
		apm.WithClock(func() time.Time { return now }),
	)
	p := &fakeProvider{enabled: true, rate: 1}
	tracer := New(p, acc, WithLogger(slog.New(slog.DiscardHandler)))

	// First request primes the clock; nothing is due yet.
	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 1, acc.QueueDepth("fake"))

	// Once the window elapses, the next request flushes both traces.
	now = now.Add(6 * time.Second)
	serve(t, tracer, httptest.NewRequest("GET", "http://app.test/", nil), okHandler)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 0, acc.QueueDepth("fake"))
	assert.Equal(t, int64(2), acc.TotalSent("fake"))
}

func TestBodyCaptureBounded(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{enabled: true, rate: 1}
	tracer, acc, _ := newTestTracer(p, WithMaxBody(4))

	var handlerSaw string
	req := httptest.NewRequest("POST", "http://app.test/", strings.NewReader("full body"))
	serve(t, tracer, req, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		handlerSaw = string(body)
	})

	assert.Equal(t, "full", acc.Pending("fake")[0]["body"])
	assert.Equal(t, "full body", handlerSaw, "handler must see the complete body")
}
