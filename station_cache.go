package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStations fronts a StationStore with a bounded LRU with TTL. Station
// rows are read on every guarded station request and change rarely.
type CachedStations struct {
	next    StationStore
	cache   *expirable.LRU[uuid.UUID, *Station]
	metrics *Metrics
}

var _ StationStore = (*CachedStations)(nil)

func NewCachedStations(next StationStore, size int, ttl time.Duration, metrics *Metrics) *CachedStations {
	if size <= 0 {
		size = 256
	}
	return &CachedStations{
		next:    next,
		cache:   expirable.NewLRU[uuid.UUID, *Station](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *CachedStations) Get(ctx context.Context, id uuid.UUID) (*Station, error) {
	if st, ok := c.cache.Get(id); ok {
		c.metrics.stationCache("hit")
		return st, nil
	}
	c.metrics.stationCache("miss")
	st, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, st)
	return st, nil
}

func (c *CachedStations) Insert(ctx context.Context, station *Station) (*Station, error) {
	created, err := c.next.Insert(ctx, station)
	if err != nil {
		return nil, err
	}
	c.cache.Add(created.ID, created)
	return created, nil
}

func (c *CachedStations) Delete(ctx context.Context, id uuid.UUID) error {
	c.cache.Remove(id)
	return c.next.Delete(ctx, id)
}

// Len is the number of live entries, mostly for tests.
func (c *CachedStations) Len() int {
	return c.cache.Len()
}
