package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seer-pm/seer/internal/crypto"
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context, tick time.Time) error
}

// NewJob parses cron and builds a Job.
func NewJob(name, cron string, run func(ctx context.Context, tick time.Time) error) (Job, error) {
	s, err := ParseSchedule(cron)
	if err != nil {
		return Job{}, fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	return Job{Name: name, Schedule: s, Run: run}, nil
}

// HTTPTrigger returns a job body that POSTs {"next_run": tick} to url, signed
// by signer when it is non-nil. Any non-2xx answer is an error.
func HTTPTrigger(client *http.Client, url string, signer *crypto.TriggerSigner) func(ctx context.Context, tick time.Time) error {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, tick time.Time) error {
		body, err := json.Marshal(map[string]string{"next_run": tick.UTC().Format(time.RFC3339)})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("trigger %s: build request: %w", url, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "seer-scheduler")
		signer.Sign(req, body)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("trigger %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("trigger %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(snippet))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
}
