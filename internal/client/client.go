// Package client builds the *http.Client shared by every transfer: user
// agent, optional outbound throttle and OpenTelemetry instrumentation.
package client

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "fetcher/1.0"

type options struct {
	transport  http.RoundTripper
	userAgent  string
	throttle   *ThrottleConfig
	timeout    time.Duration
	instrument bool
}

// Option configures Build.
type Option func(*options) error

// WithTransport replaces http.DefaultTransport as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return fmt.Errorf("transport must not be nil")
		}

		o.transport = rt

		return nil
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(o *options) error {
		o.userAgent = ua

		return nil
	}
}

// WithThrottle limits outbound requests to rps per second with the given burst.
func WithThrottle(rps float64, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("throttle rps and burst %w", ErrMustNotBeZero)
		}

		o.throttle = &ThrottleConfig{RPS: rps, Burst: burst}

		return nil
	}
}

// WithTimeout sets http.Client.Timeout. It bounds the whole exchange, body
// included, so transfers normally rely on their per-read watchdog instead.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.timeout = d

		return nil
	}
}

// WithInstrumentation wraps the transport with otelhttp.
func WithInstrumentation() Option {
	return func(o *options) error {
		o.instrument = true

		return nil
	}
}

// Build returns a new *http.Client. The client follows redirects so the final
// URL of a response names the file.
func Build(optFns ...Option) (*http.Client, error) {
	opts := options{
		transport: http.DefaultTransport,
		userAgent: DefaultUserAgent,
	}

	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	transport := opts.transport

	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}

	if opts.throttle != nil {
		transport = newThrottle(*opts.throttle, transport)
	}

	if opts.instrument {
		transport = otelhttp.NewTransport(transport)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.timeout,
	}, nil
}

type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)

	return ua.base.RoundTrip(cpy)
}
