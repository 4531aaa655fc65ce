// Tests for the net/http batch client.
package apm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBatchClientPostsHeadersAndBody(t *testing.T) {
	t.Parallel()

	var (
		gotMethod      string
		gotContentType string
		gotAuth        string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewHTTPBatchClient(0, 0)
	resp, err := c.Post(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer k"}, []byte(`{"traces":[]}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, resp.Delivered())
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.JSONEq(t, `{"traces":[]}`, string(gotBody))
}

func TestHTTPBatchClientSurfacesStatusAndBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPBatchClient(0, 0)
	resp, err := c.Post(context.Background(), srv.URL, nil, []byte("{}"))
	require.NoError(t, err, "a non-success status is not a transport error")

	assert.False(t, resp.Delivered())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, resp.Body, "quota exceeded")
}

func TestHTTPBatchClientConnectionError(t *testing.T) {
	t.Parallel()

	// Grab a port that nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPBatchClient(time.Second, 2*time.Second)
	_, err := c.Post(context.Background(), url, nil, []byte("{}"))
	require.Error(t, err)
}

func TestHTTPBatchClientHonoursContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewHTTPBatchClient(0, 0)
	_, err := c.Post(ctx, srv.URL, nil, []byte("{}"))
	require.Error(t, err)
}

func TestDeliveredRange(t *testing.T) {
	t.Parallel()

	assert.False(t, (&BatchResponse{StatusCode: 199}).Delivered())
	assert.True(t, (&BatchResponse{StatusCode: 200}).Delivered())
	assert.True(t, (&BatchResponse{StatusCode: 399}).Delivered())
	assert.False(t, (&BatchResponse{StatusCode: 400}).Delivered())
	assert.False(t, (*BatchResponse)(nil).Delivered())
}
