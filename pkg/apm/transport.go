// Outbound HTTP delivery for combined batch payloads.
package apm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Default delivery timeouts: connect and total request budget.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultTotalTimeout   = 10 * time.Second

	// maxResponseSnippet bounds how much of a response body is retained
	// for logging.
	maxResponseSnippet = 4096
)

// BatchResponse is the transport-level outcome of posting a batch.
type BatchResponse struct {
	StatusCode int
	Body       string
}

// Delivered reports whether the status code counts as accepted (200-399).
func (r *BatchResponse) Delivered() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 400
}

// BatchClient posts serialized batch payloads. Implementations must honour
// the context and return an error only for transport-level failures;
// non-success HTTP statuses are reported through BatchResponse.
type BatchClient interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (*BatchResponse, error)
}

type httpBatchClient struct {
	client *http.Client
}

// NewHTTPBatchClient builds a BatchClient on net/http with a bounded dial
// timeout and an overall request timeout. Zero values select the defaults.
func NewHTTPBatchClient(connectTimeout, totalTimeout time.Duration) BatchClient {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &httpBatchClient{
		client: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

func (c *httpBatchClient) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*BatchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on read-only body

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSnippet))
	return &BatchResponse{
		StatusCode: resp.StatusCode,
		Body:       string(snippet),
	}, nil
}
