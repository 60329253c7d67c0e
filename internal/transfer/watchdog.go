package transfer

import (
	"context"
	"errors"
	"io"
	"time"
)

// watchdog cancels its context when no progress is reported for timeout.
// It covers both the wait for response headers and every body read.
type watchdog struct {
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(parent context.Context, timeout time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(parent)

	wd := &watchdog{cancel: cancel, timeout: timeout}
	if timeout > 0 {
		wd.timer = time.AfterFunc(timeout, func() {
			cancel(ErrReadTimeout)
		})
	}

	return ctx, wd
}

// Kick re-arms the timer after progress was made.
func (wd *watchdog) Kick() {
	if wd.timer != nil {
		wd.timer.Reset(wd.timeout)
	}
}

// Pause stops the timer until the next Kick.
func (wd *watchdog) Pause() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
}

// Stop releases the timer and the context.
func (wd *watchdog) Stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}

	wd.cancel(nil)
}

// kickReader re-arms the watchdog on every successful read.
type kickReader struct {
	r  io.Reader
	wd *watchdog
}

func (k *kickReader) Read(p []byte) (int, error) {
	n, err := k.r.Read(p)
	if n > 0 {
		k.wd.Kick()
	}

	return n, err
}

// timedOut reports whether ctx was cancelled by the watchdog.
func timedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrReadTimeout)
}
