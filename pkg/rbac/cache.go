package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const (
	cacheKeyPrefix        = "gatehouse:perms:"
	defaultLocalCacheSize = 4096
)

type localEntry struct {
	permissions []string
	expiresAt   time.Time
}

// PermissionCache caches resolved per-organization permission sets.
// When a redis client is provided it is the primary store with an
// in-process LRU in front; without redis the LRU serves alone. Entries
// are TTL-bounded and invalidated on membership and role mutation, so
// staleness is limited to the TTL in the worst case.
type PermissionCache struct {
	redis   *redis.Client
	local   *lru.Cache[string, localEntry]
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewPermissionCache creates a permission cache. redisClient may be
// nil; localSize <= 0 uses a default; metrics may be nil.
func NewPermissionCache(redisClient *redis.Client, localSize int, ttl time.Duration, metrics *observability.Metrics) (*PermissionCache, error) {
	if localSize <= 0 {
		localSize = defaultLocalCacheSize
	}
	local, err := lru.New[string, localEntry](localSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}
	return &PermissionCache{
		redis:   redisClient,
		local:   local,
		ttl:     ttl,
		metrics: metrics,
	}, nil
}

func cacheKey(organizationID, userID string) string {
	return cacheKeyPrefix + organizationID + ":" + userID
}

// Get returns the cached permission set for (organization, user), or
// false when absent or expired.
func (c *PermissionCache) Get(ctx context.Context, organizationID, userID string) ([]string, bool) {
	key := cacheKey(organizationID, userID)

	if entry, ok := c.local.Get(key); ok {
		if time.Now().Before(entry.expiresAt) {
			c.recordHit()
			return entry.permissions, true
		}
		c.local.Remove(key)
	}

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			var permissions []string
			if err := json.Unmarshal([]byte(raw), &permissions); err == nil {
				c.local.Add(key, localEntry{permissions: permissions, expiresAt: time.Now().Add(c.ttl)})
				c.recordHit()
				return permissions, true
			}
		}
	}

	c.recordMiss()
	return nil, false
}

// Set stores the permission set for (organization, user). Redis write
// failures are ignored; the local entry still serves until its TTL.
func (c *PermissionCache) Set(ctx context.Context, organizationID, userID string, permissions []string) {
	key := cacheKey(organizationID, userID)
	c.local.Add(key, localEntry{permissions: permissions, expiresAt: time.Now().Add(c.ttl)})

	if c.redis != nil {
		if raw, err := json.Marshal(permissions); err == nil {
			c.redis.Set(ctx, key, raw, c.ttl)
		}
	}
}

// Invalidate drops the cached set for one (organization, user) pair.
func (c *PermissionCache) Invalidate(ctx context.Context, organizationID, userID string) {
	key := cacheKey(organizationID, userID)
	c.local.Remove(key)
	if c.redis != nil {
		c.redis.Del(ctx, key)
	}
}

// InvalidateOrganization drops every cached set for an organization,
// for mutations that affect all members (role deletion, permission
// grants).
func (c *PermissionCache) InvalidateOrganization(ctx context.Context, organizationID string) error {
	prefix := cacheKeyPrefix + organizationID + ":"

	for _, key := range c.local.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.local.Remove(key)
		}
	}

	if c.redis == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// InvalidateAll drops every cached set, for mutations whose blast
// radius spans organizations (template grant changes, template role
// deletion).
func (c *PermissionCache) InvalidateAll(ctx context.Context) error {
	c.local.Purge()

	if c.redis == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, cacheKeyPrefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *PermissionCache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *PermissionCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
