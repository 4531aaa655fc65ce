package main

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/andrewh/apmkit/pkg/apm"
	"github.com/spf13/cobra"
)

const connectCheckTimeout = 2 * time.Second

func checkCmd() *cobra.Command {
	var (
		configFile string
		endpoint   string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the configured batch endpoint is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(configFile, map[string]string{
				apm.KeyEndpoint: endpoint,
			})
			if err != nil {
				return err
			}
			target := settings.String(apm.KeyEndpoint, "")
			if target == "" {
				return fmt.Errorf("no endpoint configured\n\n" +
					"Set one with --endpoint, the APM_ENDPOINT environment variable,\n" +
					"or an endpoint entry in a --config file")
			}
			host, err := endpointHost(target)
			if err != nil {
				return err
			}
			conn, err := net.DialTimeout("tcp", host, connectCheckTimeout)
			if err != nil {
				return fmt.Errorf("cannot reach batch endpoint at %s: %w", host, err)
			}
			_ = conn.Close()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Endpoint %s is reachable\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "batch endpoint URL (overrides config)")

	return cmd
}

// endpointHost extracts a dialable host:port from an endpoint URL,
// defaulting the port from the scheme.
func endpointHost(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint URL %q", endpoint)
	}
	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(host, port)
	}
	return host, nil
}
