package querycache

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DehydratedState is the transport-safe snapshot of a cache, embedded into
// rendered pages and hydrated by the client cache.
type DehydratedState struct {
	Queries []DehydratedQuery `json:"queries"`
}

// DehydratedQuery is one successful cache entry.
type DehydratedQuery struct {
	QueryKey  Key                  `json:"queryKey"`
	QueryHash string               `json:"queryHash"`
	State     DehydratedQueryState `json:"state"`
}

// DehydratedQueryState carries the data and its fetch time in milliseconds
// since the epoch.
type DehydratedQueryState struct {
	Data          json.RawMessage `json:"data"`
	DataUpdatedAt int64           `json:"dataUpdatedAt"`
	Status        Status          `json:"status"`
}

// Dehydrate snapshots every entry holding successfully fetched data. Entries
// whose data cannot be encoded as JSON are skipped.
func (c *Client) Dehydrate() DehydratedState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := DehydratedState{Queries: make([]DehydratedQuery, 0, len(c.entries))}
	for h, e := range c.entries {
		if e.state.Status != StatusSuccess {
			continue
		}
		raw, err := json.Marshal(e.state.Data)
		if err != nil {
			c.logger.Warn("skipping undehydratable query", "key", h, "error", err.Error())
			continue
		}
		out.Queries = append(out.Queries, DehydratedQuery{
			QueryKey:  append(Key(nil), e.key...),
			QueryHash: h,
			State: DehydratedQueryState{
				Data:          raw,
				DataUpdatedAt: e.state.UpdatedAt.UnixMilli(),
				Status:        StatusSuccess,
			},
		})
	}
	sort.Slice(out.Queries, func(i, j int) bool { return out.Queries[i].QueryHash < out.Queries[j].QueryHash })
	return out
}

// Hydrate loads a dehydrated snapshot. The data of each entry is kept as
// json.RawMessage; use As to decode it. An existing entry is only replaced
// when the snapshot is newer.
func (c *Client) Hydrate(state DehydratedState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, q := range state.Queries {
		if len(q.QueryKey) == 0 {
			continue
		}
		updated := time.UnixMilli(q.State.DataUpdatedAt)
		e := c.entryLocked(q.QueryKey)
		if e.state.HasData() && !e.state.UpdatedAt.Before(updated) {
			continue
		}
		e.state.Status = StatusSuccess
		e.state.Data = q.State.Data
		e.state.Err = nil
		e.state.UpdatedAt = updated
		e.state.Invalidated = false
	}
}

// As decodes cached data into T. Values fetched in this process are returned
// directly; hydrated values arrive as raw JSON and are unmarshalled.
func As[T any](v any) (T, error) {
	var zero T
	switch d := v.(type) {
	case T:
		return d, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(d, &out); err != nil {
			return zero, fmt.Errorf("querycache: decode %T: %w", zero, err)
		}
		return out, nil
	case nil:
		return zero, nil
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return zero, fmt.Errorf("querycache: re-encode %T: %w", d, err)
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, fmt.Errorf("querycache: decode %T: %w", zero, err)
		}
		return out, nil
	}
}
