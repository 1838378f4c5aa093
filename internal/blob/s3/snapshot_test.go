package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = b
	m.mu.Unlock()
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("mem: %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type pagedMarkets struct {
	all   []domain.Market
	calls int
}

func (p *pagedMarkets) List(_ context.Context, _ domain.MarketFilters, opts domain.ListOpts) ([]domain.Market, error) {
	p.calls++
	if opts.Offset >= len(p.all) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(p.all) {
		end = len(p.all)
	}
	return p.all[opts.Offset:end], nil
}

func TestSnapshotBuildAndLoad(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	store := &pagedMarkets{}
	for i := 0; i < snapshotPageSize+5; i++ {
		store.all = append(store.all, domain.Market{ChainID: 100, ID: fmt.Sprintf("0x%04x", i), Name: "m"})
	}

	snap := NewSnapshot(blob, blob, store)
	snap.now = func() time.Time { return time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC) }

	n, err := snap.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshotPageSize+5, n)
	assert.Equal(t, 2, store.calls)

	archived, ok := blob.objects["archive/markets/2025-01-31.jsonl"]
	require.True(t, ok)
	assert.Equal(t, snapshotPageSize+5, strings.Count(string(archived), "\n"))

	got, err := snap.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, snapshotPageSize+5)
	assert.Equal(t, "0x0000", got[0].ID)
}

func TestSnapshotEmptyIndexWritesEmptyArray(t *testing.T) {
	blob := newMemBlob()
	snap := NewSnapshot(blob, blob, &pagedMarkets{})

	n, err := snap.Build(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "[]", string(blob.objects[domain.MarketsBlobKey]))
	assert.Len(t, blob.objects, 1)
}

func TestSnapshotMissingBlob(t *testing.T) {
	snap := NewSnapshot(nil, newMemBlob(), nil)
	_, err := snap.Raw(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = snap.Build(context.Background())
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.org", normaliseEndpoint("https://s3.example.org", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
