// Package helpers provides the in-process HTTP client shared by the
// API test suites.
package helpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestServer wraps httptest.Server with JSON request helpers.
type TestServer struct {
	*httptest.Server
	t *testing.T
}

// NewTestServer starts an in-process server for the given handler. The
// server is closed when the test finishes.
func NewTestServer(t *testing.T, handler http.Handler) *TestServer {
	srv := &TestServer{
		Server: httptest.NewServer(handler),
		t:      t,
	}
	t.Cleanup(srv.Close)
	return srv
}

// Request makes a JSON request to the test server.
func (s *TestServer) Request(method, path string, body interface{}) *TestResponse {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(s.t, err)

	return &TestResponse{Response: resp, t: s.t}
}

// GET makes a GET request.
func (s *TestServer) GET(path string) *TestResponse {
	return s.Request(http.MethodGet, path, nil)
}

// POST makes a POST request.
func (s *TestServer) POST(path string, body interface{}) *TestResponse {
	return s.Request(http.MethodPost, path, body)
}

// DELETE makes a DELETE request.
func (s *TestServer) DELETE(path string) *TestResponse {
	return s.Request(http.MethodDelete, path, nil)
}

// TestResponse wraps http.Response with envelope-aware assertions.
type TestResponse struct {
	*http.Response
	t *testing.T
}

// Envelope mirrors the API response wrapper. Data stays raw so callers
// can decode it into the endpoint's own type.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
	Meta    *Meta           `json:"meta"`
}

// ErrorInfo is the error half of the envelope.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

// Meta carries pagination metadata.
type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// ExpectStatus asserts the response status code.
func (r *TestResponse) ExpectStatus(code int) *TestResponse {
	require.Equal(r.t, code, r.StatusCode, "unexpected status code")
	return r
}

// ExpectOK asserts the response status is 200 OK.
func (r *TestResponse) ExpectOK() *TestResponse {
	return r.ExpectStatus(http.StatusOK)
}

// ExpectCreated asserts the response status is 201 Created.
func (r *TestResponse) ExpectCreated() *TestResponse {
	return r.ExpectStatus(http.StatusCreated)
}

// ExpectNoContent asserts the response status is 204 No Content.
func (r *TestResponse) ExpectNoContent() *TestResponse {
	return r.ExpectStatus(http.StatusNoContent)
}

// ExpectBadRequest asserts the response status is 400 Bad Request.
func (r *TestResponse) ExpectBadRequest() *TestResponse {
	return r.ExpectStatus(http.StatusBadRequest)
}

// ExpectNotFound asserts the response status is 404 Not Found.
func (r *TestResponse) ExpectNotFound() *TestResponse {
	return r.ExpectStatus(http.StatusNotFound)
}

// ExpectConflict asserts the response status is 409 Conflict.
func (r *TestResponse) ExpectConflict() *TestResponse {
	return r.ExpectStatus(http.StatusConflict)
}

// Envelope decodes the response body into the standard wrapper.
func (r *TestResponse) Envelope() Envelope {
	defer r.Body.Close()
	var env Envelope
	require.NoError(r.t, json.NewDecoder(r.Body).Decode(&env))
	return env
}

// DecodeData asserts a success envelope and decodes its data into v.
// The envelope is returned so callers can also check the meta block.
func (r *TestResponse) DecodeData(v interface{}) Envelope {
	env := r.Envelope()
	require.True(r.t, env.Success, "expected a success envelope")
	require.NoError(r.t, json.Unmarshal(env.Data, v))
	return env
}

// ExpectError asserts a failure envelope carrying the given error code.
func (r *TestResponse) ExpectError(code string) Envelope {
	env := r.Envelope()
	require.False(r.t, env.Success, "expected an error envelope")
	require.NotNil(r.t, env.Error, "error envelope carries no error info")
	require.Equal(r.t, code, env.Error.Code)
	return env
}
