package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetcher/internal/checksum"
	"github.com/italolelis/fetcher/internal/logctx"
	"github.com/italolelis/fetcher/internal/transfer"
)

const (
	// DefaultAttempts is how many times a transfer is tried before it fails.
	DefaultAttempts = 3
	// DefaultBackoffCap bounds the sleep between attempts.
	DefaultBackoffCap = 5 * time.Second
)

// Runner drives one transfer through its attempts: execute, verify, install,
// and back off between retryable failures.
type Runner struct {
	exec     transfer.Attempter
	verify   func(path, expected string) error
	install  func(stagingPath, finalPath string) error
	attempts int
	unit     time.Duration
	ceiling  time.Duration
	terminal map[int]bool
	onRetry  func(attempt int, err error, next time.Duration)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithAttempts sets the maximum number of attempts per transfer.
func WithAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets the sleep unit and ceiling. The sleep after attempt n is
// min(unit * 2^n, ceiling).
func WithBackoff(unit, ceiling time.Duration) RunnerOption {
	return func(r *Runner) {
		if unit > 0 {
			r.unit = unit
		}

		if ceiling > 0 {
			r.ceiling = ceiling
		}
	}
}

// WithRetryNotify registers fn to be called before every backoff sleep.
func WithRetryNotify(fn func(attempt int, err error, next time.Duration)) RunnerOption {
	return func(r *Runner) {
		r.onRetry = fn
	}
}

// WithTerminalStatus marks HTTP status codes that must not be retried.
func WithTerminalStatus(codes ...int) RunnerOption {
	return func(r *Runner) {
		for _, c := range codes {
			r.terminal[c] = true
		}
	}
}

// NewRunner returns a Runner using checksum.Verify and transfer.Install.
func NewRunner(exec transfer.Attempter, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:     exec,
		verify:   checksum.Verify,
		install:  transfer.Install,
		attempts: DefaultAttempts,
		unit:     time.Second,
		ceiling:  DefaultBackoffCap,
		terminal: make(map[int]bool),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes req until it is installed, fails with a non-retryable error or
// runs out of attempts. Errors never escape: they are recorded in the Result.
func (r *Runner) Run(ctx context.Context, req transfer.Request) transfer.Result {
	ctx = logctx.WithTransfer(ctx, req.ID, req.URL)
	logger := logctx.LoggerFromContext(ctx)

	result := transfer.Result{Request: req}

	operation := func() (string, error) {
		result.Attempts++

		path, state, err := r.attempt(ctx, req)
		if state != nil {
			result.Bytes += state.Transferred
			result.Staging = state.StagingPath
		}

		if err != nil && !transfer.Retryable(err, r.terminal) {
			return "", backoff.Permanent(err)
		}

		return path, err
	}

	notify := func(err error, next time.Duration) {
		logger.WarnContext(ctx, "transfer attempt failed, retrying",
			"attempt", result.Attempts,
			"kind", transfer.Classify(err),
			"backoff", next,
			"err", err)

		if r.onRetry != nil {
			r.onRetry(result.Attempts, err, next)
		}
	}

	path, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newCappedExponential(r.unit, r.ceiling)),
		backoff.WithMaxTries(uint(r.attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if err != nil {
		result.Err = err
		result.Kind = transfer.Classify(err)

		logger.ErrorContext(ctx, "transfer failed",
			"attempts", result.Attempts,
			"kind", result.Kind,
			"err", err)

		return result
	}

	result.Path = path

	logger.InfoContext(ctx, "transfer installed",
		"path", path,
		"attempts", result.Attempts,
		"received", humanize.Bytes(uint64(result.Bytes)))

	return result
}

// attempt runs one execute-verify-install cycle and returns the installed
// path along with the attempt's state, which may be nil on early failures.
// The destination stays locked from execute until install has finished.
func (r *Runner) attempt(ctx context.Context, req transfer.Request) (string, *transfer.State, error) {
	state, err := r.exec.Execute(ctx, req)
	defer state.Release()

	if err != nil {
		return "", state, err
	}

	if err := r.verify(state.StagingPath, req.Digest); err != nil {
		return "", state, err
	}

	if err := r.install(state.StagingPath, state.FinalPath); err != nil {
		return "", state, fmt.Errorf("installing %s: %w", state.FinalPath, err)
	}

	return state.FinalPath, state, nil
}

// cappedExponential sleeps unit * 2^n after the n-th failed attempt, never
// longer than ceiling.
type cappedExponential struct {
	unit    time.Duration
	ceiling time.Duration
	attempt int
}

func newCappedExponential(unit, ceiling time.Duration) *cappedExponential {
	return &cappedExponential{unit: unit, ceiling: ceiling}
}

func (b *cappedExponential) NextBackOff() time.Duration {
	b.attempt++

	// Past 2^30 the cap has long been reached.
	if b.attempt > 30 {
		return b.ceiling
	}

	return min(b.unit*time.Duration(1<<b.attempt), b.ceiling)
}

func (b *cappedExponential) Reset() {
	b.attempt = 0
}
