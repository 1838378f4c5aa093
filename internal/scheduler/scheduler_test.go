package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/crypto"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/notify"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseScheduleRejects(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestScheduleNext(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 7, 30, 0, time.UTC) // a Friday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/10 * * * *", time.Date(2024, 3, 15, 10, 10, 0, 0, time.UTC)},
		{"*/5 * * * *", time.Date(2024, 3, 15, 10, 10, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)},
		{"* * * * *", time.Date(2024, 3, 15, 10, 8, 0, 0, time.UTC)},
		{"30 2 * * *", time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * 7", time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"15,45 10 * * *", time.Date(2024, 3, 15, 10, 15, 0, 0, time.UTC)},
		{"0 0 1 * 0", time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseSchedule(tt.expr)
			require.NoError(t, err)
			got := s.Next(base)
			assert.Equal(t, tt.want, got)
			assert.True(t, s.Matches(got))
		})
	}
}

func TestScheduleNextImpossibleDate(t *testing.T) {
	s, err := ParseSchedule("0 0 30 2 *")
	require.NoError(t, err)
	assert.True(t, s.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).IsZero())
}

func TestHTTPTriggerSignsBody(t *testing.T) {
	signer := crypto.NewTriggerSigner("s3cret")
	var (
		got      map[string]string
		verified bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified = signer.Verify(r, body, time.Minute)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tick := time.Date(2024, 3, 15, 10, 10, 0, 0, time.UTC)
	run := HTTPTrigger(srv.Client(), srv.URL+"/.netlify/functions/accrue-data", signer)
	require.NoError(t, run(context.Background(), tick))
	assert.True(t, verified)
	assert.Equal(t, "2024-03-15T10:10:00Z", got["next_run"])
}

func TestHTTPTriggerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := HTTPTrigger(srv.Client(), srv.URL, nil)(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func TestTickRunsOncePerTickAcrossInstances(t *testing.T) {
	locks := &fakeLocks{}
	calls := 0
	job, err := NewJob("accrue-data", "*/10 * * * *", func(context.Context, time.Time) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	a := New([]Job{job}, discardLogger(), WithLocks(locks))
	b := New([]Job{job}, discardLogger(), WithLocks(locks))
	tick := time.Date(2024, 3, 15, 10, 10, 0, 0, time.UTC)

	require.NoError(t, a.Tick(context.Background(), job, tick))
	require.NoError(t, b.Tick(context.Background(), job, tick))
	assert.Equal(t, 1, calls)

	require.NoError(t, b.Tick(context.Background(), job, tick.Add(10*time.Minute)))
	assert.Equal(t, 2, calls)
}

func TestTickReportsFailure(t *testing.T) {
	n := &recordingNotifier{}
	job, err := NewJob("batch-odds", "*/5 * * * *", func(context.Context, time.Time) error {
		return errors.New("upstream down")
	})
	require.NoError(t, err)

	s := New([]Job{job}, discardLogger(), WithNotifier(n))
	err = s.Tick(context.Background(), job, time.Now())
	require.Error(t, err)

	require.Len(t, n.events, 1)
	assert.Equal(t, notify.KindJobFailed, n.events[0].Kind)
	assert.Equal(t, "batch-odds", n.events[0].Fields["job"])
	assert.Equal(t, "upstream down", n.events[0].Message)
}

func TestRunFiresJobs(t *testing.T) {
	fired := make(chan time.Time, 4)
	job, err := NewJob("snapshot", "* * * * *", func(_ context.Context, tick time.Time) error {
		select {
		case fired <- tick:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	s := New([]Job{job}, discardLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 15, 10, 7, 30, 0, time.UTC) }
	s.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case tick := <-fired:
		assert.Equal(t, time.Date(2024, 3, 15, 10, 8, 0, 0, time.UTC), tick)
	case <-time.After(time.Second):
		t.Fatal("job never fired")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRunDisabledIdles(t *testing.T) {
	job, err := NewJob("accrue-data", "* * * * *", func(context.Context, time.Time) error {
		t.Error("disabled scheduler ran a job")
		return nil
	})
	require.NoError(t, err)

	s := New([]Job{job}, discardLogger(), Disabled(true))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestRunNow(t *testing.T) {
	ran := false
	job, err := NewJob("snapshot", "*/5 * * * *", func(context.Context, time.Time) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	s := New([]Job{job}, discardLogger())
	require.NoError(t, s.RunNow(context.Background(), "snapshot"))
	assert.True(t, ran)
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), domain.ErrNotFound)
}
