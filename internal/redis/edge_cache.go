package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"carelink/internal/models"
	"carelink/internal/services"
)

// redisEdgeCache is the Redis implementation of services.EdgeCache. It holds
// a short-TTL snapshot of each owner's active-edge view, served when the
// primary store is degraded.
type redisEdgeCache struct {
	client *redis.Client
	ttl    time.Duration
}

const edgeCacheKeyPrefix = "edges:owner:"

// NewRedisEdgeCache creates a new edge cache with the given snapshot TTL.
func NewRedisEdgeCache(client *redis.Client, ttl time.Duration) services.EdgeCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisEdgeCache{client: client, ttl: ttl}
}

func edgeCacheKey(ownerID uint) string {
	return edgeCacheKeyPrefix + strconv.FormatUint(uint64(ownerID), 10)
}

// GetActiveEdges returns the cached snapshot for the owner, or
// services.ErrCacheMiss when none exists.
func (c *redisEdgeCache) GetActiveEdges(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	val, err := c.client.Get(ctx, edgeCacheKey(ownerID)).Result()
	if err == redis.Nil {
		return nil, services.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading edge cache for owner %d: %w", ownerID, err)
	}

	var edges []models.RelationshipEdge
	if err := json.Unmarshal([]byte(val), &edges); err != nil {
		return nil, fmt.Errorf("decoding edge cache for owner %d: %w", ownerID, err)
	}
	return edges, nil
}

// SetActiveEdges replaces the owner's cached snapshot.
func (c *redisEdgeCache) SetActiveEdges(ctx context.Context, ownerID uint, edges []models.RelationshipEdge) error {
	body, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("encoding edge cache for owner %d: %w", ownerID, err)
	}
	if err := c.client.Set(ctx, edgeCacheKey(ownerID), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing edge cache for owner %d: %w", ownerID, err)
	}
	return nil
}
