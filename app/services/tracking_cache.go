package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TrackingTarget is what a tracking code resolves to
type TrackingTarget struct {
	ApplicationID uint
	OfferID       uint
	CreatorID     uint
	ProductURL    string
}

// TrackingBinding is the application a tracking code was issued to. It never changes once issued.
// The offer destination is not part of it and is read on every redirect.
type TrackingBinding struct {
	ApplicationID uint `json:"application_id"`
	OfferID       uint `json:"offer_id"`
	CreatorID     uint `json:"creator_id"`
}

// TrackingCache keeps tracking code bindings close to the redirect endpoint
type TrackingCache interface {
	Get(ctx context.Context, code string) (*TrackingBinding, error)
	Set(ctx context.Context, code string, binding TrackingBinding) error
}

// RedisTrackingCache implements TrackingCache
type RedisTrackingCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTrackingCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisTrackingCache {
	return &RedisTrackingCache{rc: rc, prefix: prefix, ttl: ttl}
}

func (c *RedisTrackingCache) key(code string) string {
	return c.prefix + "track:" + code
}

// Get returns nil, nil on a miss
func (c *RedisTrackingCache) Get(ctx context.Context, code string) (*TrackingBinding, error) {
	bs, err := c.rc.Get(ctx, c.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("tracking cache get: %w", err)
	}
	var binding TrackingBinding
	if err := json.Unmarshal(bs, &binding); err != nil {
		return nil, fmt.Errorf("tracking cache decode: %w", err)
	}
	return &binding, nil
}

func (c *RedisTrackingCache) Set(ctx context.Context, code string, binding TrackingBinding) error {
	bs, err := json.Marshal(binding)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, c.key(code), bs, c.ttl).Err()
}
