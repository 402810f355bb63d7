package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/varnercrm/engagement-platform/pkg/logging"
)

// DefaultPruneAfter is how long a conversation may stay inbound-silent before
// its record is dropped from the cache.
const DefaultPruneAfter = 30 * 24 * time.Hour

// BlobStore persists the entire cache as one opaque blob under a fixed key.
// Load returns (nil, nil) when nothing has been stored yet.
type BlobStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Cache is the process-wide engagement record store. The in-memory map is
// authoritative; every mutation is written through to the blob store before
// returning, and a failed write is logged and swallowed so storage outages
// never break dispatching.
type Cache struct {
	mu      sync.Mutex
	records map[string]Record
	store   BlobStore
	logger  *logging.Logger
}

// NewCache creates an empty cache backed by the given blob store.
func NewCache(store BlobStore, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		records: make(map[string]Record),
		store:   store,
		logger:  logger,
	}
}

// Get returns the record for a conversation, if one exists.
func (c *Cache) Get(conversationID string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[conversationID]
	return rec, ok
}

// Put upserts a record and synchronously persists the cache. Two invariants
// are enforced here rather than trusted from callers: the last-inbound
// timestamp never regresses, and the engagement count never decreases. The
// lock is held across the durable write so snapshots reach storage in
// mutation order.
func (c *Cache) Put(ctx context.Context, rec Record) {
	if rec.ConversationID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.records[rec.ConversationID]; ok {
		if rec.LastInboundAt.Before(existing.LastInboundAt) {
			rec.LastInboundAt = existing.LastInboundAt
			rec.LastInboundMessageID = existing.LastInboundMessageID
			rec.LastInboundMessageType = existing.LastInboundMessageType
		}
		if rec.EngagementCount < existing.EngagementCount {
			rec.EngagementCount = existing.EngagementCount
		}
	}
	c.records[rec.ConversationID] = rec
	data, err := json.Marshal(c.records)
	if err != nil {
		c.logger.Error("engagement cache: marshal failed", "error", err)
		return
	}
	c.persist(ctx, data)
}

// Prune removes records whose last inbound activity is older than maxIdle
// relative to now, persists the shrunken map, and returns the removed count.
func (c *Cache) Prune(ctx context.Context, now time.Time, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = DefaultPruneAfter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, rec := range c.records {
		if now.Sub(rec.LastInboundAt) > maxIdle {
			delete(c.records, id)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	data, err := json.Marshal(c.records)
	if err != nil {
		c.logger.Error("engagement cache: marshal failed", "error", err)
		return removed
	}
	c.persist(ctx, data)
	c.logger.Info("engagement cache: pruned stale records", "removed", removed)
	return removed
}

// LoadAll replaces the in-memory map with the persisted blob. An empty store
// yields an empty cache.
func (c *Cache) LoadAll(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engagement cache: load: %w", err)
	}
	records := make(map[string]Record)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("engagement cache: decode: %w", err)
		}
	}
	c.mu.Lock()
	c.records = records
	c.mu.Unlock()
	return nil
}

// SaveAll serializes the whole map to the blob store.
func (c *Cache) SaveAll(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(c.records)
	if err != nil {
		return fmt.Errorf("engagement cache: encode: %w", err)
	}
	if err := c.store.Save(ctx, data); err != nil {
		return fmt.Errorf("engagement cache: save: %w", err)
	}
	return nil
}

// Reset flushes the cache to storage and clears the in-memory map. Used on
// explicit teardown.
func (c *Cache) Reset(ctx context.Context) error {
	if err := c.SaveAll(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.records = make(map[string]Record)
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of all records for read-only folds.
func (c *Cache) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	return out
}

// Len reports the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) persist(ctx context.Context, data []byte) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, data); err != nil {
		// The in-memory map stays authoritative; storage comes back later.
		c.logger.Warn("engagement cache: persist failed, keeping in-memory state", "error", err)
	}
}
