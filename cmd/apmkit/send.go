package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func sendCmd() *cobra.Command {
	var (
		configFile string
		endpoint   string
		provider   string
		apiKey     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "send <payloads.json | payloads.yaml | ->",
		Short: "Queue trace payloads and force-flush them to the provider",
		Long: "Queue trace payloads and force-flush them to the provider.\n\n" +
			"The input is a JSON or YAML list of trace payload objects; \"-\" reads\n" +
			"JSON from stdin. Delivery failures are logged but do not change the\n" +
			"exit code: telemetry must never break the surrounding pipeline.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing payload file\n\nUsage: apmkit send <payloads.json | ->")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(configFile, map[string]string{
				apm.KeyEndpoint: endpoint,
				apm.KeyProvider: provider,
				apm.KeyAPIKey:   apiKey,
			})
			if err != nil {
				return err
			}
			return runSend(cmd, args[0], settings, verbose)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "batch endpoint URL (overrides config)")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name (default httpjson)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key sent as a bearer token")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	return cmd
}

func runSend(cmd *cobra.Command, path string, settings *apm.Settings, verbose bool) error {
	p, err := buildProvider(settings)
	if err != nil {
		return err
	}

	payloads, err := loadPayloads(path)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No payloads to send")
		return nil
	}

	acc := apm.NewAccumulator(settings, apm.WithLogger(newLogger(verbose)))
	for _, payload := range payloads {
		acc.AddTrace(p.Name(), payload)
	}

	res := acc.ForceSend(cmd.Context(), p)
	switch res.Outcome {
	case apm.OutcomeSent:
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %d traces to %s (status %d)\n", res.Traces, p.BatchEndpoint(), res.Status)
	case apm.OutcomeTransportFailed:
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Delivery failed, %d traces dropped: %v\n", res.Traces, res.Err)
	default:
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Nothing sent (%s)\n", res.Outcome)
	}
	return nil
}

// loadPayloads reads a list of trace payloads from a JSON or YAML file,
// or JSON from stdin when path is "-".
func loadPayloads(path string) ([]apm.TracePayload, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // user-supplied payload path is expected
	}
	if err != nil {
		return nil, fmt.Errorf("reading payloads: %w", err)
	}

	var payloads []apm.TracePayload
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &payloads)
	default:
		err = json.Unmarshal(data, &payloads)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing payloads: %w", err)
	}
	return payloads, nil
}
