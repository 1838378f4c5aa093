package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/seer-pm/seer/internal/domain"
)

// MarketLister is the slice of domain.MarketStore the snapshot reads.
type MarketLister interface {
	List(ctx context.Context, filters domain.MarketFilters, opts domain.ListOpts) ([]domain.Market, error)
}

// snapshotPageSize bounds each List call while walking the index.
const snapshotPageSize = 1000

// Snapshot builds and serves the all-markets blob read by the
// all-markets-search edge endpoint.
type Snapshot struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  MarketLister
	now    func() time.Time
}

// NewSnapshot creates a Snapshot. store and writer may be nil for read-only
// use.
func NewSnapshot(writer domain.BlobWriter, reader domain.BlobReader, store MarketLister) *Snapshot {
	return &Snapshot{writer: writer, reader: reader, store: store, now: time.Now}
}

// Build pages through the market index and uploads it as one JSON array at
// domain.MarketsBlobKey. A JSONL copy is kept under archive/markets/ per day.
// It returns the number of markets written.
func (s *Snapshot) Build(ctx context.Context) (int, error) {
	if s.store == nil || s.writer == nil {
		return 0, fmt.Errorf("s3blob: snapshot build: store and writer are required")
	}

	var markets []domain.Market
	for offset := 0; ; offset += snapshotPageSize {
		page, err := s.store.List(ctx, domain.MarketFilters{}, domain.ListOpts{Limit: snapshotPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: snapshot list markets: %w", err)
		}
		markets = append(markets, page...)
		if len(page) < snapshotPageSize {
			break
		}
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	body, err := json.Marshal(markets)
	if err != nil {
		return 0, fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}
	if err := s.writer.Put(ctx, domain.MarketsBlobKey, bytes.NewReader(body), "application/json"); err != nil {
		return 0, fmt.Errorf("s3blob: snapshot upload: %w", err)
	}

	if len(markets) > 0 {
		lines, err := marshalJSONL(markets)
		if err != nil {
			return len(markets), fmt.Errorf("s3blob: snapshot archive marshal: %w", err)
		}
		if err := s.writer.PutMultipart(ctx, archivePath("markets", s.now()), bytes.NewReader(lines), 0); err != nil {
			return len(markets), fmt.Errorf("s3blob: snapshot archive upload: %w", err)
		}
	}
	return len(markets), nil
}

// Raw returns the stored blob bytes. A missing blob wraps domain.ErrNotFound.
func (s *Snapshot) Raw(ctx context.Context) ([]byte, error) {
	rc, err := s.reader.Get(ctx, domain.MarketsBlobKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", domain.MarketsBlobKey, err)
	}
	return data, nil
}

// Load decodes the stored blob.
func (s *Snapshot) Load(ctx context.Context) ([]domain.Market, error) {
	data, err := s.Raw(ctx)
	if err != nil {
		return nil, err
	}
	var markets []domain.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("s3blob: decode %s: %w", domain.MarketsBlobKey, err)
	}
	return markets, nil
}

// archivePath partitions archive copies by day:
//
//	archive/markets/2025-01-31.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01-02"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
