// APM batch delivery toolkit
// Queues trace payloads for a pluggable provider and posts them in batches
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/andrewh/apmkit/pkg/apm/providers/httpjson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "apmkit",
		Short:        "APM batch delivery toolkit",
		SilenceUsage: true,
	}

	root.AddCommand(sendCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(providersCmd())
	root.AddCommand(versionCmd())

	return root
}

// settingKeys are the configuration keys forwarded from viper into the
// provider settings override map.
var settingKeys = []string{
	apm.KeyProvider,
	apm.KeyEnabled,
	apm.KeySampleRate,
	apm.KeySendInterval,
	apm.KeyEndpoint,
	apm.KeyAPIKey,
	apm.KeyTraceRequests,
}

// loadSettings resolves configuration from an optional YAML file, APM_*
// environment variables, and explicit flag overrides, highest last.
func loadSettings(configFile string, flagOverrides map[string]string) (*apm.Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("APM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	overrides := make(map[string]string)
	for _, key := range settingKeys {
		if v.IsSet(key) {
			overrides[key] = v.GetString(key)
		}
	}
	for key, val := range flagOverrides {
		if val != "" {
			overrides[key] = val
		}
	}
	return apm.NewSettings(overrides), nil
}

// newLogger builds the CLI logger. Verbose mode includes debug output such
// as interval-gate decisions.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildProvider constructs the configured provider, defaulting to httpjson.
func buildProvider(settings *apm.Settings) (apm.Provider, error) {
	return apm.NewFromSettings(settings, httpjson.Name)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "apmkit %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
