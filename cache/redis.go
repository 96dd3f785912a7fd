package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-service/models"
)

const maxSetAttempts = 3

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: ttl,
	}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*models.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var stored storedCart
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return stored.toCart(), nil
}

// Set stores the cart unless the cached copy is already at the same or a
// later version. A concurrent write to the key makes the attempt start over.
func (r *RedisCache) Set(ctx context.Context, userID string, cart *models.Cart) error {
	data, err := json.Marshal(newStoredCart(cart))
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	key := cacheKey(userID)
	ttl := r.baseTTL + time.Duration(rand.Intn(60))*time.Second
	write := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var stored storedCart
			if json.Unmarshal(current, &stored) == nil && stored.Version >= cart.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = r.client.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

// storedCart carries the version, which the public JSON shape hides.
type storedCart struct {
	models.Cart
	Version int64 `json:"version"`
}

func newStoredCart(c *models.Cart) storedCart {
	return storedCart{Cart: *c, Version: c.Version}
}

func (s storedCart) toCart() *models.Cart {
	cart := s.Cart
	cart.Version = s.Version
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return &cart
}
