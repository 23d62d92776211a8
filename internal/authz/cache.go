package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheGenerationKey = "authz:perms:gen"

// PermissionCache fronts the engine's EffectivePermissions with a short
// Redis TTL for hot-path authorization checks. Mutations that touch one
// user invalidate that user's entry; role or catalog wide mutations
// bump a generation counter instead of enumerating users. Redis being
// down degrades to uncached engine reads.
type PermissionCache struct {
	client *redis.Client
	engine *Engine
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewPermissionCache constructs a cache with the given TTL.
func NewPermissionCache(client *redis.Client, engine *Engine, ttl time.Duration, logger *slog.Logger) *PermissionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PermissionCache{client: client, engine: engine, ttl: ttl, logger: logger}
}

// EffectivePermissions returns the cached permission keys for a user,
// filling the cache through singleflight on a miss.
func (c *PermissionCache) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	key, err := c.userKey(ctx, userID)
	if err == nil {
		cached, err := c.client.Get(ctx, key).Result()
		if err == nil {
			var keys []string
			if err := json.Unmarshal([]byte(cached), &keys); err == nil {
				return keys, nil
			}
		} else if err != redis.Nil && c.logger != nil {
			c.logger.Warn("permission cache read", slog.Any("error", err))
		}
	}

	v, err, _ := c.group.Do(fmt.Sprintf("perms:%d", userID), func() (any, error) {
		perms, err := c.engine.EffectivePermissions(ctx, userID, time.Now())
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(perms))
		for _, p := range perms {
			keys = append(keys, p.Key())
		}
		if key != "" {
			if data, err := json.Marshal(keys); err == nil {
				if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil && c.logger != nil {
					c.logger.Warn("permission cache write", slog.Any("error", err))
				}
			}
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Authorize answers the allow/deny question through the cache.
func (c *PermissionCache) Authorize(ctx context.Context, userID int64, resource, action string) (bool, error) {
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return false, fmt.Errorf("%w: resource and action required", ErrValidation)
	}
	keys, err := c.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	want := resource + ":" + action
	for _, k := range keys {
		if k == want {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateUser drops one user's cached permission set.
func (c *PermissionCache) InvalidateUser(ctx context.Context, userID int64) {
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil && c.logger != nil {
		c.logger.Warn("permission cache invalidate", slog.Int64("user", userID), slog.Any("error", err))
	}
}

// Flush invalidates every cached entry by bumping the generation.
func (c *PermissionCache) Flush(ctx context.Context) {
	if err := c.client.Incr(ctx, cacheGenerationKey).Err(); err != nil && c.logger != nil {
		c.logger.Warn("permission cache flush", slog.Any("error", err))
	}
}

func (c *PermissionCache) userKey(ctx context.Context, userID int64) (string, error) {
	gen, err := c.client.Get(ctx, cacheGenerationKey).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("authz:perms:%d:%d", gen, userID), nil
}
