package engagement

import (
	"sync/atomic"
	"time"
)

// ActionCounters tracks cumulative send counts across the dispatcher and
// follow-up scheduler. Safe for concurrent use.
type ActionCounters struct {
	templatesSent atomic.Int64
	regularSent   atomic.Int64
}

func NewActionCounters() *ActionCounters {
	return &ActionCounters{}
}

func (c *ActionCounters) IncTemplates() {
	if c == nil {
		return
	}
	c.templatesSent.Add(1)
}

func (c *ActionCounters) IncRegular() {
	if c == nil {
		return
	}
	c.regularSent.Add(1)
}

func (c *ActionCounters) TemplatesSent() int64 {
	if c == nil {
		return 0
	}
	return c.templatesSent.Load()
}

func (c *ActionCounters) RegularSent() int64 {
	if c == nil {
		return 0
	}
	return c.regularSent.Load()
}

// Stats aggregates engagement state for monitoring consumers.
type Stats struct {
	TotalConversations int   `json:"total_conversations"`
	WithinWindow       int   `json:"within_window"`
	OutsideWindow      int   `json:"outside_window"`
	TemplatesSent      int64 `json:"templates_sent"`
	RegularSent        int64 `json:"regular_sent"`
}

// StatsAggregator derives aggregate counts from the engagement cache and the
// shared action counters. Read-only; it never mutates either source.
type StatsAggregator struct {
	cache    *Cache
	window   WindowPolicy
	counters *ActionCounters
}

func NewStatsAggregator(cache *Cache, window WindowPolicy, counters *ActionCounters) *StatsAggregator {
	if window.Window <= 0 {
		window = NewWindowPolicy(0)
	}
	return &StatsAggregator{cache: cache, window: window, counters: counters}
}

// ComputeStats folds over a snapshot of the cache at the given moment.
// WithinWindow + OutsideWindow always equals TotalConversations.
func (a *StatsAggregator) ComputeStats(now time.Time) Stats {
	stats := Stats{
		TemplatesSent: a.counters.TemplatesSent(),
		RegularSent:   a.counters.RegularSent(),
	}
	if a.cache == nil {
		return stats
	}
	for _, rec := range a.cache.Snapshot() {
		stats.TotalConversations++
		if a.window.IsWithinWindow(now, rec.LastInboundAt) {
			stats.WithinWindow++
		} else {
			stats.OutsideWindow++
		}
	}
	return stats
}
