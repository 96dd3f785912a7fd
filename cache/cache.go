package cache

import (
	"context"
	"errors"

	"marketplace-service/models"
)

var ErrCacheMiss = errors.New("cache miss")

// CartCache is a copy of carts keyed by user. Set never replaces a cached
// cart with an older version.
type CartCache interface {
	Get(ctx context.Context, userID string) (*models.Cart, error)
	Set(ctx context.Context, userID string, cart *models.Cart) error
	Delete(ctx context.Context, userID string) error
}

// NopCache never holds anything; used when Redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*models.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, string, *models.Cart) error   { return nil }
func (NopCache) Delete(context.Context, string) error              { return nil }
