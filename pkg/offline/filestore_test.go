package offline_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hson89/the-overwatch/pkg/offline"
)

func newMemFileStorage(t *testing.T) *offline.FileStorage {
	t.Helper()
	s := offline.NewFileStorageFs(afero.NewMemMapFs(), "/buffer")
	require.NoError(t, s.Initialize())
	return s
}

func TestFileStorageRoundTrip(t *testing.T) {
	s := newMemFileStorage(t)

	enqueued := time.Now().Truncate(time.Microsecond)
	require.NoError(t, s.Store(offline.Item{
		ID:         "0001",
		Kind:       "metric",
		Payload:    []byte(`{"name":"latency"}`),
		EnqueuedAt: enqueued,
		RetryCount: 2,
	}))

	items, err := s.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "0001", items[0].ID)
	assert.Equal(t, "metric", items[0].Kind)
	assert.Equal(t, `{"name":"latency"}`, string(items[0].Payload))
	assert.Equal(t, enqueued.UnixMicro(), items[0].EnqueuedAt.UnixMicro())
	assert.Equal(t, 2, items[0].RetryCount)
}

func TestFileStorageOrdersByID(t *testing.T) {
	s := newMemFileStorage(t)

	// Stored out of order; retrieval is oldest (lowest ID) first.
	require.NoError(t, s.Store(offline.Item{ID: "0002", Kind: "log"}))
	require.NoError(t, s.Store(offline.Item{ID: "0001", Kind: "event"}))
	require.NoError(t, s.Store(offline.Item{ID: "0003", Kind: "metric"}))

	items, err := s.Retrieve(2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "0001", items[0].ID)
	assert.Equal(t, "0002", items[1].ID)
}

func TestFileStorageUpdateKeepsPosition(t *testing.T) {
	s := newMemFileStorage(t)

	require.NoError(t, s.Store(offline.Item{ID: "0001", Kind: "event"}))
	require.NoError(t, s.Store(offline.Item{ID: "0002", Kind: "event"}))

	// Updating the older item must not push it behind the newer one.
	require.NoError(t, s.Store(offline.Item{
		ID:         "0001",
		Kind:       "event",
		RetryCount: 1,
	}))

	items, err := s.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "0001", items[0].ID)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestFileStorageRemove(t *testing.T) {
	s := newMemFileStorage(t)

	require.NoError(t, s.Store(offline.Item{ID: "0001", Kind: "event"}))
	require.NoError(t, s.Remove("0001"))

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Removing a missing item is not an error.
	assert.NoError(t, s.Remove("0001"))
}

func TestFileStorageClear(t *testing.T) {
	s := newMemFileStorage(t)

	require.NoError(t, s.Store(offline.Item{ID: "0001", Kind: "event"}))
	require.NoError(t, s.Store(offline.Item{ID: "0002", Kind: "log"}))
	require.NoError(t, s.Clear())

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFileStorageSkipsCorruptFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := offline.NewFileStorageFs(fs, "/buffer")
	require.NoError(t, s.Initialize())

	require.NoError(t, s.Store(offline.Item{ID: "0002", Kind: "event"}))
	require.NoError(t,
		afero.WriteFile(fs, "/buffer/0001.json", []byte("not json"), 0o644))

	items, err := s.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "0002", items[0].ID)
}

func TestFileStorageCorruptFileDoesNotShrinkBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := offline.NewFileStorageFs(fs, "/buffer")
	require.NoError(t, s.Initialize())

	require.NoError(t, s.Store(offline.Item{ID: "0001", Kind: "event"}))
	require.NoError(t, afero.WriteFile(
		fs, "/buffer/0002.json", []byte("not json"), 0o644))
	require.NoError(t, s.Store(offline.Item{ID: "0003", Kind: "event"}))
	require.NoError(t, s.Store(offline.Item{ID: "0004", Kind: "event"}))

	// The corrupt file does not count against the limit: the batch is
	// still filled from the remaining valid items.
	items, err := s.Retrieve(3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "0001", items[0].ID)
	assert.Equal(t, "0003", items[1].ID)
	assert.Equal(t, "0004", items[2].ID)

	// And it was removed, not left to poison the next pass.
	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMemoryStorageUpsertKeepsPosition(t *testing.T) {
	s := offline.NewMemoryStorage()
	require.NoError(t, s.Initialize())

	require.NoError(t, s.Store(offline.Item{ID: "a", Kind: "event"}))
	require.NoError(t, s.Store(offline.Item{ID: "b", Kind: "event"}))
	require.NoError(t, s.Store(offline.Item{ID: "a", Kind: "event", RetryCount: 2}))

	items, err := s.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, 2, items[0].RetryCount)
}
