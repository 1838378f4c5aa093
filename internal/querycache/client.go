// Package querycache is a keyed query cache with request de-duplication,
// staleness, retry and prefix invalidation. It plays the role the React Query
// client plays in the browser: the SSR prefetch layer fills one per request,
// dehydrates it into the page, and the client side hydrates from that state.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	// DefaultStaleTime keeps hydrated SSR data fresh long enough for the
	// first client render to be served from cache.
	DefaultStaleTime = 60 * time.Second
	DefaultRetry     = 3
	DefaultGCTime    = 5 * time.Minute
	maxRetryDelay    = 30 * time.Second
)

// Fetcher performs the network call behind a query.
type Fetcher func(ctx context.Context) (any, error)

// State is a snapshot of one cache entry.
type State struct {
	Key         Key
	Status      Status
	Data        any
	Err         error
	UpdatedAt   time.Time
	ErrorAt     time.Time
	Fetching    bool
	Invalidated bool
	FetchCount  int
}

// HasData reports whether the entry holds a successfully fetched value.
func (s State) HasData() bool { return !s.UpdatedAt.IsZero() }

type entry struct {
	key     Key
	state   State
	fetcher Fetcher
	opts    Options
	gen     uint64
	subs    map[int]chan State
	nextSub int
	lastUse time.Time
}

// Client holds cache entries keyed by Key.Hash.
type Client struct {
	mu       sync.Mutex
	entries  map[string]*entry
	group    singleflight.Group
	defaults Options
	gcTime   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaults sets the per-query defaults applied before per-call options.
func WithDefaults(opts ...Option) ClientOption {
	return func(c *Client) {
		for _, o := range opts {
			o(&c.defaults)
		}
	}
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithGCTime sets how long an unobserved entry survives Collect.
func WithGCTime(d time.Duration) ClientOption {
	return func(c *Client) { c.gcTime = d }
}

// New creates an empty Client.
func New(opts ...ClientOption) *Client {
	c := &Client{
		entries: make(map[string]*entry),
		defaults: Options{
			StaleTime: DefaultStaleTime,
			Retry:     DefaultRetry,
			RetryDelay: func(attempt int) time.Duration {
				d := time.Second << attempt
				if d > maxRetryDelay || d <= 0 {
					d = maxRetryDelay
				}
				return d
			},
		},
		gcTime: DefaultGCTime,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "querycache"))
	return c
}

// entryLocked returns the entry for key, creating it when absent. c.mu must
// be held.
func (c *Client) entryLocked(key Key) *entry {
	h := key.Hash()
	e, ok := c.entries[h]
	if !ok {
		e = &entry{
			key:   append(Key(nil), key...),
			state: State{Key: append(Key(nil), key...), Status: StatusIdle},
			subs:  make(map[int]chan State),
			opts:  c.defaults,
		}
		c.entries[h] = e
	}
	e.lastUse = c.now()
	return e
}

func (c *Client) resolveOptions(opts []Option) Options {
	o := c.defaults
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// freshLocked reports whether e can be served without refetching.
func (c *Client) freshLocked(e *entry) bool {
	if e.state.Status != StatusSuccess || e.state.Invalidated {
		return false
	}
	if e.opts.StaleTime < 0 {
		return true
	}
	return c.now().Sub(e.state.UpdatedAt) < e.opts.StaleTime
}

// Query returns the current state for key immediately. When the entry is not
// fresh a fetch is started in the background and the returned state reports
// Fetching; subscribers are notified when it completes.
func (c *Client) Query(ctx context.Context, key Key, fetcher Fetcher, opts ...Option) State {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetcher = fetcher
	e.opts = c.resolveOptions(opts)
	if c.freshLocked(e) {
		st := e.state
		c.mu.Unlock()
		return st
	}
	c.markFetchingLocked(e)
	st := e.state
	c.mu.Unlock()

	c.notify(e, st)
	go func() {
		<-c.shared(context.WithoutCancel(ctx), e)
	}()
	return st
}

// Fetch returns the cached value for key when fresh, otherwise it waits for
// the (possibly shared) in-flight fetch. Concurrent callers with the same key
// share one call to fetcher.
func (c *Client) Fetch(ctx context.Context, key Key, fetcher Fetcher, opts ...Option) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetcher = fetcher
	e.opts = c.resolveOptions(opts)
	if c.freshLocked(e) {
		data := e.state.Data
		c.mu.Unlock()
		return data, nil
	}
	c.markFetchingLocked(e)
	st := e.state
	c.mu.Unlock()

	c.notify(e, st)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-c.shared(context.WithoutCancel(ctx), e):
		return res.Val, res.Err
	}
}

// Prefetch fills key without returning the value. Errors are returned so the
// caller can decide whether to degrade.
func (c *Client) Prefetch(ctx context.Context, key Key, fetcher Fetcher, opts ...Option) error {
	_, err := c.Fetch(ctx, key, fetcher, opts...)
	return err
}

func (c *Client) markFetchingLocked(e *entry) {
	e.state.Fetching = true
	if !e.state.HasData() && e.state.Status != StatusError {
		e.state.Status = StatusPending
	}
}

// shared joins the in-flight fetch for e or starts one. At most one fetch per
// key hash runs at a time no matter how many callers race.
func (c *Client) shared(ctx context.Context, e *entry) <-chan singleflight.Result {
	return c.group.DoChan(e.key.Hash(), func() (any, error) {
		return c.doFetch(ctx, e)
	})
}

func (c *Client) doFetch(ctx context.Context, e *entry) (any, error) {
	c.mu.Lock()
	fetcher := e.fetcher
	opts := e.opts
	gen := e.gen
	e.state.Fetching = true
	e.state.FetchCount++
	c.mu.Unlock()

	var (
		data any
		err  error
	)
	if fetcher == nil {
		err = fmt.Errorf("querycache: no fetcher registered for %s", e.key)
	} else {
		data, err = fetchWithRetry(ctx, fetcher, opts)
	}

	c.mu.Lock()
	now := c.now()
	e.state.Fetching = false
	if err != nil {
		e.state.Status = StatusError
		e.state.Err = err
		e.state.ErrorAt = now
	} else {
		e.state.Status = StatusSuccess
		e.state.Data = data
		e.state.Err = nil
		e.state.UpdatedAt = now
		// An invalidation that landed while this fetch was in flight keeps
		// the entry invalid: the data may predate the mutation.
		e.state.Invalidated = e.gen != gen
	}
	st := e.state
	c.mu.Unlock()

	if err != nil {
		c.logger.WarnContext(ctx, "query fetch failed",
			slog.String("key", e.key.Hash()),
			slog.String("error", err.Error()),
		)
	}
	c.notify(e, st)
	return data, err
}

func fetchWithRetry(ctx context.Context, fetcher Fetcher, opts Options) (any, error) {
	attempts := 1
	if !opts.DisableRetry && opts.Retry > 0 {
		attempts += opts.Retry
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && opts.RetryDelay != nil {
			timer := time.NewTimer(opts.RetryDelay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
		data, err := fetcher(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// GetState returns the state for key and whether the entry exists.
func (c *Client) GetState(key Key) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.Hash()]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// GetQueryData returns the cached data for key without fetching.
func (c *Client) GetQueryData(key Key) (any, bool) {
	st, ok := c.GetState(key)
	if !ok || !st.HasData() {
		return nil, false
	}
	return st.Data, true
}

// SetQueryData writes data for key as a successful, fresh fetch.
func (c *Client) SetQueryData(key Key, data any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.state.Status = StatusSuccess
	e.state.Data = data
	e.state.Err = nil
	e.state.UpdatedAt = c.now()
	e.state.Invalidated = false
	st := e.state
	c.mu.Unlock()
	c.notify(e, st)
}

// Invalidate marks every entry whose key starts with prefix as invalidated,
// so its next read refetches. Entries that currently have subscribers are
// refetched right away. It returns the number of matching entries.
func (c *Client) Invalidate(prefix Key) int {
	c.mu.Lock()
	var refetch []*entry
	n := 0
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		n++
		e.gen++
		e.state.Invalidated = true
		if len(e.subs) > 0 && e.fetcher != nil {
			c.markFetchingLocked(e)
			refetch = append(refetch, e)
		}
	}
	c.mu.Unlock()

	for _, e := range refetch {
		go c.refetch(context.Background(), e)
	}
	return n
}

// refetch fetches e until the stored data is newer than the last
// invalidation. A fetch already in flight when the entry was invalidated is
// joined first and then followed by a fresh one. It stops early when the
// fetch fails or the entry loses its subscribers.
func (c *Client) refetch(ctx context.Context, e *entry) {
	for {
		res := <-c.shared(ctx, e)
		if res.Err != nil {
			return
		}
		c.mu.Lock()
		again := e.state.Invalidated && len(e.subs) > 0 && e.fetcher != nil
		if again {
			c.markFetchingLocked(e)
		}
		c.mu.Unlock()
		if !again {
			return
		}
	}
}

// Remove drops every entry whose key starts with prefix.
func (c *Client) Remove(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			for id, ch := range e.subs {
				close(ch)
				delete(e.subs, id)
			}
			delete(c.entries, h)
		}
	}
}

// Collect removes entries that have no subscribers, are not fetching and
// have not been used for longer than the GC time.
func (c *Client) Collect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for h, e := range c.entries {
		if len(e.subs) == 0 && !e.state.Fetching && now.Sub(e.lastUse) >= c.gcTime {
			delete(c.entries, h)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Mutate runs a side-effecting call. On success every key in invalidate is
// invalidated by prefix; on failure nothing is invalidated and the error is
// returned unchanged.
func (c *Client) Mutate(ctx context.Context, fn func(ctx context.Context) (any, error), invalidate ...Key) (any, error) {
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range invalidate {
		c.Invalidate(k)
	}
	return v, nil
}

// Subscribe registers for state changes of key. The channel always holds the
// latest state; intermediate states may be skipped for slow readers. Call
// cancel to unsubscribe.
func (c *Client) Subscribe(key Key) (<-chan State, func()) {
	c.mu.Lock()
	e := c.entryLocked(key)
	id := e.nextSub
	e.nextSub++
	ch := make(chan State, 1)
	e.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				close(sub)
				delete(e.subs, id)
			}
		})
	}
	return ch, cancel
}

func (c *Client) notify(e *entry, st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
