package querycache

import "time"

// Options controls how one query is fetched and how long its data stays
// fresh.
type Options struct {
	// StaleTime is how long data counts as fresh. Negative means forever.
	StaleTime time.Duration
	// Retry is the number of additional attempts after a failed fetch.
	Retry        int
	RetryDelay   func(attempt int) time.Duration
	DisableRetry bool
}

// Option mutates Options for one call.
type Option func(*Options)

// WithStaleTime sets how long fetched data is served without refetching.
func WithStaleTime(d time.Duration) Option {
	return func(o *Options) { o.StaleTime = d }
}

// WithRetry sets the number of retries after the first failed attempt.
func WithRetry(n int) Option {
	return func(o *Options) {
		o.Retry = n
		o.DisableRetry = n <= 0
	}
}

// WithoutRetry makes a failed fetch surface immediately.
func WithoutRetry() Option {
	return func(o *Options) { o.DisableRetry = true }
}

// WithRetryDelay overrides the backoff between attempts.
func WithRetryDelay(fn func(attempt int) time.Duration) Option {
	return func(o *Options) { o.RetryDelay = fn }
}
