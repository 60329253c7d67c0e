package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/italolelis/fetcher/internal/logctx"
	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrThrottleWait  = errors.New("throttle wait failed")
)

// ThrottleConfig defines the outbound request rate and burst.
type ThrottleConfig struct {
	RPS   float64
	Burst int
}

// throttle is an http.RoundTripper that blocks on a token bucket before
// every outbound request. Probes, ranged and plain GETs all count.
type throttle struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func newThrottle(cfg ThrottleConfig, next http.RoundTripper) *throttle {
	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		next:    next,
	}
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := t.limiter.Wait(ctx); err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "throttle wait aborted", "host", r.URL.Host, "err", err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrThrottleWait, ctxErr)
		}

		return nil, fmt.Errorf("%w: %w", ErrThrottleWait, err)
	}

	return t.next.RoundTrip(r)
}
