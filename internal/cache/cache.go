// Package cache memoizes evaluation results keyed by every input that can
// affect them. The store is a bounded strict-LRU map with no TTL; it is
// owned by the run orchestrator and not safe for concurrent use without the
// orchestrator's lock.
package cache

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/model"
)

// ErrIntegrity marks a cache hit whose stored parameter fingerprint does not
// match the caller's recomputed fingerprint. This means key derivation is
// broken and every downstream number is suspect; callers must abort the run.
var ErrIntegrity = errors.New("cache: fingerprint mismatch on hit")

// Stats reports cache telemetry counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

type entry struct {
	key         string
	fingerprint string
	result      model.RunResult
}

// ResultCache is a bounded LRU memo of evaluation results.
type ResultCache struct {
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	stats    Stats
}

// New creates a ResultCache holding at most capacity results.
func New(capacity int) *ResultCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ResultCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get looks up a result and, on a hit, verifies that the stored parameter
// fingerprint matches the caller's recomputed one. A mismatch is a critical
// integrity fault: the hit is not returned and ErrIntegrity is raised.
func (c *ResultCache) Get(key, fingerprint string) (model.RunResult, bool, error) {
	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return model.RunResult{}, false, nil
	}

	e := elem.Value.(*entry)
	if e.fingerprint != fingerprint {
		log.Error().
			Str("key", key).
			Str("stored_fingerprint", e.fingerprint).
			Str("request_fingerprint", fingerprint).
			Msg("CRITICAL: cache key collision with mismatched parameters")
		return model.RunResult{}, false, fmt.Errorf("%w: key %s", ErrIntegrity, key)
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return e.result, true, nil
}

// Set stores a result under key, recording the parameter fingerprint it was
// computed for. Evicts the least recently used entry when full.
func (c *ResultCache) Set(key, fingerprint string, result model.RunResult) {
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.fingerprint = fingerprint
		e.result = result
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
			c.stats.Evictions++
		}
	}

	c.items[key] = c.order.PushFront(&entry{key: key, fingerprint: fingerprint, result: result})
}

// Clear drops all entries but keeps counters, so end-of-run stats survive.
func (c *ResultCache) Clear() {
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() Stats {
	s := c.stats
	s.Size = c.order.Len()
	s.Capacity = c.capacity
	return s
}
