package transfer

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// DefaultChunkSize matches the read size used when none is configured.
	DefaultChunkSize = 32 << 10
	// DefaultTimeout bounds the wait for headers and each body read.
	DefaultTimeout = 60 * time.Second
	// StagingSuffix is appended to the final path to form the staging path.
	StagingSuffix = ".part"
	// FallbackName is used when no usable file name can be derived.
	FallbackName = "download.bin"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes one URL to fetch. It must not be modified once submitted.
type Request struct {
	ID        string        `validate:"required"`
	URL       string        `validate:"required,url"`
	Dir       string        `validate:"required"`
	Name      string        // Optional file name override
	Resume    bool          // Resume from an existing staging file when possible
	Overwrite bool          // Replace an existing destination
	Digest    string        `validate:"omitempty,len=64,hexadecimal"`
	ChunkSize int           `validate:"gt=0"`
	Timeout   time.Duration `validate:"gte=0"`
}

// NewRequest returns a Request with a fresh ID and default chunk size and
// timeout, resuming by default like the command line does.
func NewRequest(url, dir string) Request {
	return Request{
		ID:        uuid.NewString(),
		URL:       url,
		Dir:       dir,
		Resume:    true,
		ChunkSize: DefaultChunkSize,
		Timeout:   DefaultTimeout,
	}
}

// Validate checks the request before any I/O is done.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &RequestError{URL: r.URL, Err: err}
	}

	return nil
}

// Capability is what a probe learned about the remote resource.
type Capability struct {
	Known  bool  // The probe succeeded
	Size   int64 // -1 when unknown
	Ranges bool  // Server advertised Accept-Ranges: bytes
}

// State is the per-attempt bookkeeping of the executor. It is never shared
// between transfers.
type State struct {
	StagingPath string
	FinalPath   string
	Written     int64 // Bytes present in the staging file
	Transferred int64 // Bytes received over the network in this attempt
	Total       int64 // -1 when unknown
	Ranges      bool
	Resumed     bool

	release func()
}

// Release gives up the exclusive hold on FinalPath that a successful Execute
// keeps for the caller's verify and install steps. It is safe to call more
// than once and on a nil State.
func (s *State) Release() {
	if s == nil || s.release == nil {
		return
	}

	s.release()
	s.release = nil
}

// Result is the terminal outcome of a transfer.
type Result struct {
	Request  Request
	Path     string // Installed path, empty on failure
	Staging  string // Staging path of the last attempt, when it was resolved
	Err      error
	Kind     Kind
	Attempts int
	Bytes    int64 // Bytes transferred over the network across all attempts
}

// OK reports whether the transfer installed a file.
func (r Result) OK() bool {
	return r.Err == nil
}

// String renders a one-line summary suitable for the failure report.
func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("%s -> %s", r.Request.URL, r.Path)
	}

	return fmt.Sprintf("%s [%s]: %v", r.Request.URL, r.Kind, r.Err)
}

// Phase is the executor's state machine position, used for logging.
type Phase string

const (
	PhaseInit            Phase = "init"
	PhaseProbe           Phase = "probe"
	PhaseStreaming       Phase = "streaming"
	PhaseStreamingResume Phase = "streaming_resumed"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)
