// Inbound request accessor used by request tracing to enrich payloads.
package apm

import (
	"bytes"
	"io"
	"net/http"
)

// Request exposes the parts of an inbound HTTP request that trace
// enrichment reads: method, URI, headers, and the parsed body for
// methods that carry one.
type Request interface {
	// Method returns the HTTP method, upper-cased.
	Method() string

	// URI returns the request target including query string.
	URI() string

	// Header returns the first value for name, case-insensitively,
	// or "" when absent.
	Header(name string) string

	// Body returns the captured request body. Non-nil only for
	// POST, PUT, and PATCH requests.
	Body() []byte
}

// capturedRequest is a Request snapshot taken before handler dispatch.
type capturedRequest struct {
	method string
	uri    string
	header http.Header
	body   []byte
}

func (r *capturedRequest) Method() string { return r.method }
func (r *capturedRequest) URI() string    { return r.uri }
func (r *capturedRequest) Body() []byte   { return r.body }

func (r *capturedRequest) Header(name string) string {
	return r.header.Get(name)
}

// hasBody reports whether trace enrichment captures a body for the method.
func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// CaptureRequest snapshots an *http.Request into a Request, reading at most
// maxBody bytes of the body for POST/PUT/PATCH. The consumed bytes are
// stitched back onto req.Body so the downstream handler sees the full
// stream. maxBody <= 0 disables body capture.
func CaptureRequest(req *http.Request, maxBody int64) Request {
	c := &capturedRequest{
		method: req.Method,
		uri:    req.URL.RequestURI(),
		header: req.Header,
	}
	if maxBody > 0 && hasBody(req.Method) && req.Body != nil {
		buf, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
		if err == nil {
			c.body = buf
			req.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(buf), req.Body), req.Body}
		}
	}
	return c
}
