// Two-tier settings source: explicit overrides first, process environment second.
// Environment keys are derived as APM_<KEY> with dots mapped to underscores.
package apm

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Well-known setting keys understood across the kit.
const (
	KeyProvider      = "provider"
	KeyEnabled       = "enabled"
	KeySampleRate    = "sample_rate"
	KeySendInterval  = "send_interval"
	KeyEndpoint      = "endpoint"
	KeyAPIKey        = "api_key"
	KeyTraceRequests = "trace_requests"
)

// Send interval bounds. The interval is resolved once at accumulator
// construction and held immutably for its lifetime.
const (
	DefaultSendInterval = 5 * time.Second
	MinSendInterval     = 1 * time.Second
)

// Settings resolves string-keyed configuration with override-map-then-
// environment-then-default precedence. A nil *Settings is usable and
// resolves everything from the environment.
type Settings struct {
	overrides map[string]string
	lookupEnv func(key string) (string, bool)
}

// NewSettings builds a Settings with the given override map. The map is
// copied; later mutation of the argument has no effect.
func NewSettings(overrides map[string]string) *Settings {
	s := &Settings{lookupEnv: os.LookupEnv}
	if len(overrides) > 0 {
		s.overrides = make(map[string]string, len(overrides))
		for k, v := range overrides {
			s.overrides[k] = v
		}
	}
	return s
}

// envKey maps a setting key to its environment variable form,
// e.g. "send_interval" -> "APM_SEND_INTERVAL".
func envKey(key string) string {
	return "APM_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// lookup returns the raw value for key and whether one was found.
func (s *Settings) lookup(key string) (string, bool) {
	if s != nil {
		if v, ok := s.overrides[key]; ok {
			return v, true
		}
		if s.lookupEnv != nil {
			return s.lookupEnv(envKey(key))
		}
	}
	return os.LookupEnv(envKey(key))
}

// String returns the value for key, or def if unset.
func (s *Settings) String(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

// Bool returns the boolean value for key. Accepts 1/true/yes/on and
// 0/false/no/off in any case; anything else falls back to def.
func (s *Settings) Bool(key string, def bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// Int returns the integer value for key, or def if unset or non-numeric.
func (s *Settings) Int(key string, def int) int {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Float returns the float value for key, or def if unset or non-numeric.
func (s *Settings) Float(key string, def float64) float64 {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// Duration returns the duration value for key. A bare integer is read as
// seconds; otherwise the value is parsed as a Go duration string.
// Unset or unparsable values fall back to def.
func (s *Settings) Duration(key string, def time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// resolveSendInterval reads the send interval setting, defaulting to
// DefaultSendInterval and clamping to MinSendInterval.
func resolveSendInterval(s *Settings) time.Duration {
	d := s.Duration(KeySendInterval, DefaultSendInterval)
	if d < MinSendInterval {
		return MinSendInterval
	}
	return d
}
