package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "catalog:snapshot"

// Cache publishes the in-memory catalog to redis so that other
// gateway instances can warm up without rebuilding it from the
// adapters. Readers tolerate a stale or missing snapshot; the local
// catalog is always authoritative for routing.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Publish(ctx context.Context, cat *Catalog) error {
	data, err := json.Marshal(cat.Entries())
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("publish catalog: %w", err)
	}
	return nil
}

func (c *Cache) Load(ctx context.Context) (*Catalog, error) {
	data, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	var entries []ModelInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(entries), nil
}
