// Generic JSON-over-HTTP APM provider.
// Posts batches as {"batch_id", "trace_count", "traces"} to a configured
// endpoint with optional bearer authentication. Serves as the default
// backend and as the reference for writing vendor providers.
package httpjson

import (
	"fmt"
	"time"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/google/uuid"
)

// Name is the registry key for this provider.
const Name = "httpjson"

func init() {
	apm.Register(Name, func(settings *apm.Settings) (apm.Provider, error) {
		return New(settings)
	})
}

// Provider is a generic JSON batch backend.
type Provider struct {
	endpoint   string
	apiKey     string
	enabled    bool
	sampleRate float64
	now        func() time.Time
}

// New builds and configures a Provider from settings.
func New(settings *apm.Settings) (*Provider, error) {
	p := &Provider{now: time.Now}
	if err := p.Configure(settings); err != nil {
		return nil, err
	}
	return p, nil
}

// Name implements apm.Provider.
func (p *Provider) Name() string { return Name }

// Configure reads endpoint, credentials, enablement, and sample rate.
// The sample rate is clamped to [0, 1].
func (p *Provider) Configure(settings *apm.Settings) error {
	p.endpoint = settings.String(apm.KeyEndpoint, "")
	p.apiKey = settings.String(apm.KeyAPIKey, "")
	p.enabled = settings.Bool(apm.KeyEnabled, false)

	rate := settings.Float(apm.KeySampleRate, 1.0)
	if rate < 0 || rate > 1 {
		return fmt.Errorf("sample_rate %v out of range [0, 1]", rate)
	}
	p.sampleRate = rate
	return nil
}

// Enabled implements apm.Provider.
func (p *Provider) Enabled() bool { return p.enabled }

// SampleRate implements apm.Provider.
func (p *Provider) SampleRate() float64 { return p.sampleRate }

// CombinePayloads wraps the queued traces in a batch envelope. An empty
// input combines to nothing, which the accumulator drops without sending.
func (p *Provider) CombinePayloads(payloads []apm.TracePayload) (map[string]any, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	return map[string]any{
		"batch_id":    uuid.NewString(),
		"sent_at":     p.now().UTC().Format(time.RFC3339Nano),
		"trace_count": len(payloads),
		"traces":      payloads,
	}, nil
}

// BatchEndpoint implements apm.Provider.
func (p *Provider) BatchEndpoint() string { return p.endpoint }

// BatchHeaders returns bearer authentication when an API key is set.
func (p *Provider) BatchHeaders() map[string]string {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}
