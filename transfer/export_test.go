package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/client"
)

var fastRetry = client.RetryConfig{
	MaxRetries:   0,
	InitialDelay: time.Millisecond,
	MaxDelay:     time.Millisecond,
	Multiplier:   1,
}

func newExporter(src client.Backend, store blobstore.Store) *Exporter {
	return &Exporter{
		Source:      src,
		Store:       store,
		Logger:      zap.NewNop(),
		PageSize:    500,
		Parallelism: 4,
		Retry:       fastRetry,
	}
}

func readBatch(t *testing.T, store blobstore.Store, name string) []client.Document {
	t.Helper()
	data, err := store.Read(context.Background(), name)
	require.NoError(t, err)
	docs, err := decodeBatch(data)
	require.NoError(t, err)
	return docs
}

func TestWindows(t *testing.T) {
	assert.Equal(t, 0, Windows(0, 500))
	assert.Equal(t, 1, Windows(1, 500))
	assert.Equal(t, 2, Windows(1000, 500))
	assert.Equal(t, 3, Windows(1001, 500))
	assert.Equal(t, 3, Windows(1200, 500))
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	src := newMemBackend()
	src.seed("hotels", 1200)
	store := blobstore.NewMemory()

	var mu sync.Mutex
	var seen []int
	e := newExporter(src, store)
	e.OnBatch = func(b BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, b.Sequence)
	}

	results, err := e.Export(ctx, "hotels", 1200)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.ElementsMatch(t, []int{1, 2, 3}, seen)

	for i, want := range []int{500, 500, 200} {
		r := results[i]
		assert.True(t, r.OK(), r.Error)
		assert.Equal(t, i+1, r.Sequence)
		assert.Equal(t, i*500, r.Offset)
		assert.Equal(t, want, r.Documents)
		assert.Equal(t, 1, r.Attempts)
		assert.Len(t, readBatch(t, store, BatchName("hotels", i+1)), want)
	}

	docs := readBatch(t, store, "hotels2.json")
	assert.Equal(t, "h00500", docs[0]["hotelId"])
	assert.Equal(t, "h00999", docs[499]["hotelId"])

	// geo points are rewritten on the way out
	first := readBatch(t, store, "hotels1.json")[0]
	loc := first["location"].(map[string]interface{})
	assert.Equal(t, "Point", loc["type"])
	assert.NotContains(t, loc, "Latitude")
}

func TestExportExactMultiple(t *testing.T) {
	ctx := context.Background()
	src := newMemBackend()
	src.seed("hotels", 1000)
	store := blobstore.NewMemory()

	results, err := newExporter(src, store).Export(ctx, "hotels", 1000)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	blobs, err := store.List(ctx, "hotels")
	require.NoError(t, err)
	assert.Len(t, blobs, 2)
	assert.Equal(t, 2, src.pageCalls)
}

func TestExportEmptyIndex(t *testing.T) {
	src := newMemBackend()
	src.seed("hotels", 0)
	store := blobstore.NewMemory()

	results, err := newExporter(src, store).Export(context.Background(), "hotels", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, src.pageCalls)
}

func TestExportBatchFailure(t *testing.T) {
	ctx := context.Background()
	src := newMemBackend()
	src.seed("hotels", 1200)
	src.failPage[500] = 1
	store := blobstore.NewMemory()

	results, err := newExporter(src, store).Export(ctx, "hotels", 1200)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Contains(t, results[1].Error, "503")
	assert.True(t, results[2].OK())
	assert.Equal(t, "2 of 3 batches succeeded", summarize(StageExport, results).String())

	ok, err := store.Exists(ctx, "hotels2.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExportRetriesTransientFailures(t *testing.T) {
	src := newMemBackend()
	src.seed("hotels", 300)
	src.failPage[0] = 2
	store := blobstore.NewMemory()

	e := newExporter(src, store)
	e.Retry.MaxRetries = 3
	results, err := e.Export(context.Background(), "hotels", 300)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK(), results[0].Error)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, 300, results[0].Documents)
}

func TestExportShortIndex(t *testing.T) {
	// the index shrank after it was counted
	src := newMemBackend()
	src.seed("hotels", 400)

	results, err := newExporter(src, blobstore.NewMemory()).Export(context.Background(), "hotels", 600)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.Contains(t, results[1].Error, "no documents")
}

func TestExportCancelled(t *testing.T) {
	src := newMemBackend()
	src.seed("hotels", 1200)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExporter(src, blobstore.NewMemory()).Export(ctx, "hotels", 1200)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	for _, name := range []string{"hotels1.json", "hotels2.json", "hotels.schema", "hotels-eu1.json", "motels1.json"} {
		require.NoError(t, store.Write(ctx, name, []byte(`{"value":[]}`)))
	}

	deleted, err := newExporter(newMemBackend(), store).Cleanup(ctx, "hotels")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	blobs, err := store.List(ctx, "")
	require.NoError(t, err)
	var names []string
	for _, b := range blobs {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"hotels-eu1.json", "hotels.schema", "motels1.json"}, names)
}
