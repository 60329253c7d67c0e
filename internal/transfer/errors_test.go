package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"network", &NetworkError{Operation: "get", URL: "u", Err: errors.New("connection reset")}, KindNetwork},
		{"read timeout", &NetworkError{Operation: "read_body", URL: "u", Err: ErrReadTimeout}, KindNetwork},
		{"status", &StatusError{URL: "u", Code: 503}, KindStatus},
		{"conflict", &ConflictError{Path: "/tmp/a", Reason: "exists"}, KindConflict},
		{"integrity", &IntegrityError{Path: "/tmp/a"}, KindIntegrity},
		{"manifest", &InvalidManifestError{Name: "SHA256SUMS", Reason: "empty"}, KindInvalidManifest},
		{"request", &RequestError{URL: "u", Err: errors.New("bad")}, KindInvalidRequest},
		{"canceled", context.Canceled, KindCanceled},
		{"canceled inside network", &NetworkError{Operation: "get", Err: context.Canceled}, KindCanceled},
		{"wrapped status", fmt.Errorf("attempt: %w", &StatusError{Code: 404}), KindStatus},
		{"unknown", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	terminal := map[int]bool{404: true, 410: true}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &NetworkError{Err: ErrShortBody}, true},
		{"integrity", &IntegrityError{}, true},
		{"server error", &StatusError{Code: 503}, true},
		{"terminal status", &StatusError{Code: 404}, false},
		{"conflict", &ConflictError{}, false},
		{"manifest", &InvalidManifestError{}, false},
		{"invalid request", &RequestError{Err: errors.New("bad")}, false},
		{"canceled", context.Canceled, false},
		{"unknown", errors.New("disk full"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err, terminal))
		})
	}
}

func TestConflictError_IsErrExist(t *testing.T) {
	err := fmt.Errorf("attempt: %w", &ConflictError{Path: "/tmp/a", Reason: "exists"})

	assert.ErrorIs(t, err, os.ErrExist)
	assert.Contains(t, err.Error(), "/tmp/a")
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{Operation: "read_body", URL: "https://example.com/a", Err: ErrLengthOverrun}

	assert.ErrorIs(t, err, ErrLengthOverrun)
	assert.Equal(t, "network error during read_body of https://example.com/a: body longer than announced length", err.Error())
}

func TestStatusError_Error(t *testing.T) {
	assert.Equal(t, "unexpected status for u: HTTP 404 Not Found",
		(&StatusError{URL: "u", Code: 404, Status: "404 Not Found"}).Error())
	assert.Equal(t, "unexpected status for u: HTTP 500", (&StatusError{URL: "u", Code: 500}).Error())
}

func TestResult_String(t *testing.T) {
	ok := Result{Request: Request{URL: "https://example.com/a"}, Path: "/tmp/a"}
	assert.True(t, ok.OK())
	assert.Equal(t, "https://example.com/a -> /tmp/a", ok.String())

	failed := Result{Request: Request{URL: "https://example.com/a"}, Err: &StatusError{URL: "x", Code: 500}, Kind: KindStatus}
	assert.False(t, failed.OK())
	assert.Equal(t, "https://example.com/a [status]: unexpected status for x: HTTP 500", failed.String())
}

func TestRequest_Validate(t *testing.T) {
	valid := NewRequest("https://example.com/tool.tar.gz", t.TempDir())
	assert.NoError(t, valid.Validate())
	assert.NotEmpty(t, valid.ID)
	assert.True(t, valid.Resume)

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing url", func(r *Request) { r.URL = "" }},
		{"malformed url", func(r *Request) { r.URL = "not a url" }},
		{"missing dir", func(r *Request) { r.Dir = "" }},
		{"short digest", func(r *Request) { r.Digest = "abc" }},
		{"non hex digest", func(r *Request) { r.Digest = strings.Repeat("z", 64) }},
		{"zero chunk", func(r *Request) { r.ChunkSize = 0 }},
		{"negative timeout", func(r *Request) { r.Timeout = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := req.Validate()

			var reqErr *RequestError
			assert.ErrorAs(t, err, &reqErr)
			assert.Equal(t, KindInvalidRequest, Classify(err))
		})
	}
}
