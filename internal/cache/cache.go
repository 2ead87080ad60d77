// Package cache stores completed stream event sequences keyed by request
// fingerprint and replays them with synthetic pacing. All operations
// serialize on one lock around an ordered map; the lock is never held across
// I/O.
package cache

import (
	"container/list"
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/config"
)

// Cacheability predicate bounds.
const (
	minCacheableChunks = 5
	maxCacheableChunks = 1000
	minContentChunks   = 3
	minContentChars    = 50
	defaultReplayDelay = 50 * time.Millisecond
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosstalk_cache_hits_total",
		Help: "Stream cache hits.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosstalk_cache_misses_total",
		Help: "Stream cache misses.",
	})
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosstalk_cache_evictions_total",
		Help: "Stream cache evictions (TTL expiry and capacity only).",
	})
)

// Entry is one cached stream. Access metadata mutates on every hit; the
// event sequence never does.
type Entry struct {
	Fingerprint  string
	Events       []anthropic.StreamEvent
	Metadata     map[string]string
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	TTL          time.Duration
	SizeBytes    int64
	Tags         []string
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries    int   `json:"entries"`
	SizeBytes  int64 `json:"size_bytes"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Stores     int64 `json:"stores"`
	Evictions  int64 `json:"evictions"`
	InFlight   int   `json:"in_flight_builds"`
}

// Cache is the in-memory streaming cache. Zero value is not usable; use New.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element // fingerprint -> *Entry element
	lru        *list.List               // front = most recent
	building   map[string]struct{}
	totalBytes int64

	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration
	sweep      time.Duration
	replayGap  time.Duration

	stats Stats
	log   *zap.Logger
}

// New builds a cache from configuration bounds.
func New(cfg config.CacheConfig, log *zap.Logger) *Cache {
	return &Cache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		building:   make(map[string]struct{}),
		maxEntries: cfg.MaxEntries,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		defaultTTL: time.Duration(cfg.DefaultTTLSeconds) * time.Second,
		sweep:      time.Duration(cfg.CleanupIntervalSeconds) * time.Second,
		replayGap:  defaultReplayDelay,
		log:        log.Named("cache"),
	}
}

// Get returns a copy of the cached event sequence and touches access
// metadata. A miss is counted only here, on the read path.
func (c *Cache) Get(fingerprint string) ([]anthropic.StreamEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		c.stats.Misses++
		cacheMisses.Inc()
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.expired(time.Now()) {
		c.evictEntryLocked(elem)
		c.stats.Misses++
		cacheMisses.Inc()
		return nil, false
	}

	entry.LastAccessed = time.Now()
	entry.AccessCount++
	c.lru.MoveToFront(elem)
	c.stats.Hits++
	cacheHits.Inc()

	events := make([]anthropic.StreamEvent, len(entry.Events))
	copy(events, entry.Events)
	return events, true
}

// BeginBuild claims the writer slot for a fingerprint. At most one concurrent
// build per fingerprint; callers that lose the race stream without caching.
func (c *Cache) BeginBuild(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.building[fingerprint]; busy {
		return false
	}
	c.building[fingerprint] = struct{}{}
	return true
}

// AbortBuild releases the writer slot without storing. Mandatory on
// cancellation or failure; partial accumulations are never stored.
func (c *Cache) AbortBuild(fingerprint string) {
	c.mu.Lock()
	delete(c.building, fingerprint)
	c.mu.Unlock()
}

// CompleteBuild releases the writer slot and stores the sequence if it
// passes the cacheability predicate. Returns whether the entry was stored.
func (c *Cache) CompleteBuild(fingerprint string, events []anthropic.StreamEvent, ttl time.Duration, tags []string) bool {
	if !Cacheable(events) {
		c.AbortBuild(fingerprint)
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	entry := &Entry{
		Fingerprint:  fingerprint,
		Events:       events,
		Metadata:     map[string]string{"source": "stream"},
		CreatedAt:    time.Now(),
		LastAccessed: time.Now(),
		TTL:          ttl,
		SizeBytes:    sizeOf(events),
		Tags:         tags,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.building, fingerprint)

	if old, ok := c.entries[fingerprint]; ok {
		c.removeLocked(old)
	}
	elem := c.lru.PushFront(entry)
	c.entries[fingerprint] = elem
	c.totalBytes += entry.SizeBytes
	c.stats.Stores++
	c.evictLocked()
	return true
}

// Cacheable is the predicate deciding whether a completed stream is worth
// storing: enough chunks, not too many, no errors, and either tool activity
// or a minimum amount of text.
func Cacheable(events []anthropic.StreamEvent) bool {
	if len(events) < minCacheableChunks || len(events) > maxCacheableChunks {
		return false
	}
	contentChunks := 0
	contentChars := 0
	hasTool := false
	for _, ev := range events {
		switch ev.Type {
		case anthropic.EventError:
			return false
		case anthropic.EventContentBlockDelta:
			if ev.Delta != nil && ev.Delta.Type == anthropic.DeltaText {
				contentChunks++
				contentChars += len(ev.Delta.Text)
			}
			if ev.Delta != nil && ev.Delta.Type == anthropic.DeltaInputJSON {
				hasTool = true
			}
		case anthropic.EventContentBlockStart:
			if ev.ContentBlock != nil && ev.ContentBlock.Type == anthropic.BlockToolUse {
				hasTool = true
			}
		}
	}
	return hasTool || (contentChunks >= minContentChunks && contentChars >= minContentChars)
}

// Replay delivers a cached sequence to sink with synthetic inter-chunk
// pacing, annotating each event with cache_status=hit. It respects ctx.
func (c *Cache) Replay(ctx context.Context, sink interface {
	Send(anthropic.StreamEvent) error
}, events []anthropic.StreamEvent) error {
	for i, ev := range events {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.replayGap):
			}
		}
		ev.CacheMetadata = &anthropic.CacheMetadata{CacheStatus: "hit"}
		if err := sink.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateCriteria selects entries for removal. Any matching criterion
// removes the entry.
type InvalidateCriteria struct {
	FingerprintPattern string
	Tags               []string
	OlderThan          time.Duration
}

// Invalidate removes every entry matching any supplied criterion and returns
// the count removed.
func (c *Cache) Invalidate(crit InvalidateCriteria) (int, error) {
	var re *regexp.Regexp
	if crit.FingerprintPattern != "" {
		var err error
		re, err = regexp.Compile(crit.FingerprintPattern)
		if err != nil {
			return 0, err
		}
	}
	tagSet := map[string]bool{}
	for _, t := range crit.Tags {
		tagSet[t] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for fp, elem := range c.entries {
		entry := elem.Value.(*Entry)
		match := false
		if re != nil && re.MatchString(fp) {
			match = true
		}
		if !match && len(tagSet) > 0 {
			for _, tag := range entry.Tags {
				if tagSet[tag] {
					match = true
					break
				}
			}
		}
		if !match && crit.OlderThan > 0 && now.Sub(entry.CreatedAt) > crit.OlderThan {
			match = true
		}
		if match {
			c.removeLocked(elem)
			removed++
		}
	}
	return removed, nil
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	s.SizeBytes = c.totalBytes
	s.InFlight = len(c.building)
	return s
}

// StartSweeper runs the TTL sweep until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context) {
	interval := c.sweep
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := c.sweepExpired()
				if n > 0 {
					c.log.Debug("swept expired entries", zap.Int("count", n))
				}
			}
		}
	}()
}

func (c *Cache) sweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, elem := range c.entries {
		if elem.Value.(*Entry).expired(now) {
			c.evictEntryLocked(elem)
			removed++
		}
	}
	return removed
}

// evictLocked enforces the count and byte bounds, oldest-access first.
func (c *Cache) evictLocked() {
	for (c.maxEntries > 0 && len(c.entries) > c.maxEntries) ||
		(c.maxBytes > 0 && c.totalBytes > c.maxBytes) {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		c.evictEntryLocked(oldest)
	}
}

// evictEntryLocked removes and counts an eviction. Only the TTL and capacity
// paths use it; explicit invalidation and store replacement remove without
// counting.
func (c *Cache) evictEntryLocked(elem *list.Element) {
	c.removeLocked(elem)
	c.stats.Evictions++
	cacheEvictions.Inc()
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*Entry)
	delete(c.entries, entry.Fingerprint)
	c.lru.Remove(elem)
	c.totalBytes -= entry.SizeBytes
}

// sizeOf estimates the byte footprint of a sequence: text payloads plus a
// fixed per-event overhead.
func sizeOf(events []anthropic.StreamEvent) int64 {
	var total int64
	for _, ev := range events {
		total += 64
		if ev.Delta != nil {
			total += int64(len(ev.Delta.Text) + len(ev.Delta.PartialJSON))
		}
		if ev.ContentBlock != nil {
			total += int64(len(ev.ContentBlock.Text))
		}
	}
	return total
}
