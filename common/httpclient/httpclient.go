// Package httpclient builds the retrying HTTP clients used for idempotent calls to
// collaborating services.
package httpclient

import (
	"log/slog"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetryMax = 2
)

type Options struct {
	Timeout  time.Duration
	RetryMax int
}

// New returns a client that retries connection errors, 429s and 5xx with jittered
// backoff. Only use it for requests that are safe to repeat.
func New(opts Options) *retryablehttp.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	} else if opts.RetryMax == 0 {
		opts.RetryMax = defaultRetryMax
	}

	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = opts.Timeout
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = slog.Default()
	return c
}
