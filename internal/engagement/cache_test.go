package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBlobStore is an in-memory BlobStore for tests.
type memoryBlobStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	failing bool
}

func (m *memoryBlobStore) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("storage down")
	}
	return m.data, nil
}

func (m *memoryBlobStore) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("storage down")
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func testRecord(id string, lastInbound time.Time) Record {
	return Record{
		ConversationID:         id,
		LastInboundAt:          lastInbound,
		LastInboundMessageID:   "msg-" + id,
		LastInboundMessageType: "text",
		EngagementCount:        1,
	}
}

func TestCachePutGet(t *testing.T) {
	ctx := context.Background()
	store := &memoryBlobStore{}
	cache := NewCache(store, nil)
	now := time.Now().UTC()

	rec := testRecord("abc", now)
	cache.Put(ctx, rec)

	got, ok := cache.Get("abc")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestCachePutPersistsSynchronously(t *testing.T) {
	ctx := context.Background()
	store := &memoryBlobStore{}
	cache := NewCache(store, nil)

	cache.Put(ctx, testRecord("a", time.Now().UTC()))
	cache.Put(ctx, testRecord("b", time.Now().UTC()))
	assert.Equal(t, 2, store.saves)
}

func TestCacheLastInboundNeverRegresses(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(&memoryBlobStore{}, nil)
	newer := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	cache.Put(ctx, testRecord("abc", newer))

	stale := testRecord("abc", older)
	stale.LastAction = ActionTemplateSend
	cache.Put(ctx, stale)

	got, _ := cache.Get("abc")
	assert.Equal(t, newer, got.LastInboundAt, "timestamp must not regress")
	assert.Equal(t, ActionTemplateSend, got.LastAction, "non-timestamp fields still update")
}

func TestCacheEngagementCountNeverDecreases(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(&memoryBlobStore{}, nil)
	now := time.Now().UTC()

	rec := testRecord("abc", now)
	rec.EngagementCount = 5
	cache.Put(ctx, rec)

	rec.EngagementCount = 2
	cache.Put(ctx, rec)

	got, _ := cache.Get("abc")
	assert.Equal(t, 5, got.EngagementCount)
}

func TestCachePersistFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := &memoryBlobStore{failing: true}
	cache := NewCache(store, nil)
	now := time.Now().UTC()

	cache.Put(ctx, testRecord("abc", now))

	// In-memory state stays authoritative despite the storage error.
	got, ok := cache.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "abc", got.ConversationID)
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &memoryBlobStore{}
	cache := NewCache(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	original := map[string]Record{}
	for _, id := range []string{"a", "b", "c"} {
		rec := testRecord(id, now.Add(-time.Duration(len(id))*time.Hour))
		rec.LastAction = ActionDirectSend
		rec.LastActionDetails = "msg-123"
		cache.Put(ctx, rec)
		original[id] = rec
	}
	require.NoError(t, cache.SaveAll(ctx))

	fresh := NewCache(store, nil)
	require.NoError(t, fresh.LoadAll(ctx))
	require.Equal(t, len(original), fresh.Len())
	for id, want := range original {
		got, ok := fresh.Get(id)
		require.True(t, ok, "record %s missing after reload", id)
		assert.Equal(t, want, got)
	}
}

func TestCacheLoadAllEmptyStore(t *testing.T) {
	cache := NewCache(&memoryBlobStore{}, nil)
	require.NoError(t, cache.LoadAll(context.Background()))
	assert.Equal(t, 0, cache.Len())
}

func TestCachePrune(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(&memoryBlobStore{}, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cache.Put(ctx, testRecord("fresh", now.Add(-time.Hour)))
	cache.Put(ctx, testRecord("aging", now.Add(-29*24*time.Hour)))
	cache.Put(ctx, testRecord("stale", now.Add(-31*24*time.Hour)))

	removed := cache.Prune(ctx, now, DefaultPruneAfter)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, cache.Len())

	_, ok := cache.Get("stale")
	assert.False(t, ok)
	_, ok = cache.Get("aging")
	assert.True(t, ok)
}

// snapshotOrderStore decodes each saved blob and remembers how many records
// it held, in arrival order.
type snapshotOrderStore struct {
	mu     sync.Mutex
	counts []int
	last   []byte
}

func (s *snapshotOrderStore) Load(_ context.Context) ([]byte, error) { return nil, nil }

func (s *snapshotOrderStore) Save(_ context.Context, data []byte) error {
	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, len(records))
	s.last = append([]byte(nil), data...)
	return nil
}

func TestCacheConcurrentPutsPersistInMutationOrder(t *testing.T) {
	ctx := context.Background()
	store := &snapshotOrderStore{}
	cache := NewCache(store, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cache.Put(ctx, testRecord(fmt.Sprintf("conv-%d", n), now))
		}(i)
	}
	wg.Wait()

	// Records only accumulate, so a snapshot shrinking between saves means
	// an older marshal reached storage after a newer one.
	require.Len(t, store.counts, writers)
	for i := 1; i < len(store.counts); i++ {
		assert.GreaterOrEqual(t, store.counts[i], store.counts[i-1],
			"save %d persisted a smaller snapshot than save %d", i, i-1)
	}

	var final map[string]Record
	require.NoError(t, json.Unmarshal(store.last, &final))
	assert.Len(t, final, writers, "last durable snapshot must hold every record")
}

func TestCacheReset(t *testing.T) {
	ctx := context.Background()
	store := &memoryBlobStore{}
	cache := NewCache(store, nil)
	cache.Put(ctx, testRecord("abc", time.Now().UTC()))

	require.NoError(t, cache.Reset(ctx))
	assert.Equal(t, 0, cache.Len())

	// The flushed blob still holds the record for the next process.
	fresh := NewCache(store, nil)
	require.NoError(t, fresh.LoadAll(ctx))
	assert.Equal(t, 1, fresh.Len())
}
