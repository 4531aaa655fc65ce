// Tests for the generic JSON provider: configuration and batch shaping.
package httpjson

import (
	"testing"
	"time"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(overrides map[string]string) *apm.Settings {
	base := map[string]string{
		apm.KeyEndpoint:   "http://apm.example/batch",
		apm.KeyAPIKey:     "",
		apm.KeyEnabled:    "true",
		apm.KeySampleRate: "1",
	}
	for k, v := range overrides {
		base[k] = v
	}
	return apm.NewSettings(base)
}

func TestConfigureReadsSettings(t *testing.T) {
	t.Parallel()

	p, err := New(testSettings(map[string]string{
		apm.KeyAPIKey:     "secret",
		apm.KeySampleRate: "0.25",
	}))
	require.NoError(t, err)

	assert.Equal(t, Name, p.Name())
	assert.True(t, p.Enabled())
	assert.Equal(t, 0.25, p.SampleRate())
	assert.Equal(t, "http://apm.example/batch", p.BatchEndpoint())
	assert.Equal(t, "Bearer secret", p.BatchHeaders()["Authorization"])
}

func TestConfigureRejectsBadSampleRate(t *testing.T) {
	t.Parallel()

	_, err := New(testSettings(map[string]string{apm.KeySampleRate: "1.5"}))
	require.Error(t, err)

	_, err = New(testSettings(map[string]string{apm.KeySampleRate: "-0.1"}))
	require.Error(t, err)
}

func TestNoAuthHeaderWithoutKey(t *testing.T) {
	t.Parallel()

	p, err := New(testSettings(nil))
	require.NoError(t, err)
	assert.NotContains(t, p.BatchHeaders(), "Authorization")
}

func TestCombinePayloadsEnvelope(t *testing.T) {
	t.Parallel()

	p, err := New(testSettings(nil))
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	payloads := []apm.TracePayload{{"id": 1}, {"id": 2}}
	combined, err := p.CombinePayloads(payloads)
	require.NoError(t, err)

	assert.Equal(t, 2, combined["trace_count"])
	assert.Equal(t, payloads, combined["traces"])
	assert.Equal(t, "2025-06-01T12:00:00Z", combined["sent_at"])

	id, ok := combined["batch_id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "batch_id should be a valid uuid")
}

func TestCombineEmptyInputYieldsNothing(t *testing.T) {
	t.Parallel()

	p, err := New(testSettings(nil))
	require.NoError(t, err)

	combined, err := p.CombinePayloads(nil)
	require.NoError(t, err)
	assert.Empty(t, combined)
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	t.Parallel()

	assert.Contains(t, apm.Names(), Name)

	p, err := apm.New(Name, testSettings(nil))
	require.NoError(t, err)
	assert.Equal(t, Name, p.Name())
}
