package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"marketplace-service/cache"
	"marketplace-service/models"
	"marketplace-service/repository"
)

const (
	maxCartRetries = 3
	loadTimeout    = 5 * time.Second
)

type CartService struct {
	repo    CartRepository
	catalog Catalog
	cache   cache.CartCache
	sfg     singleflight.Group
}

func NewCartService(repo CartRepository, catalog Catalog, c cache.CartCache) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &CartService{
		repo:    repo,
		catalog: catalog,
		cache:   c,
	}
}

// GetCart returns the user's cart with product names and images refreshed
// from the catalog. A user without a cart gets the empty cart shape.
func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	// the shared load must not fail because the first caller went away
	loadCtx := context.WithoutCancel(ctx)
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		return s.loadCart(loadCtx, userID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// singleflight hands the same pointer to every waiter
	shared := res.Val.(*models.Cart)
	cart := *shared
	cart.Items = append([]models.CartItem{}, shared.Items...)
	s.refreshDisplay(ctx, &cart)
	return &cart, nil
}

// CurrentCart reads the stored cart, bypassing the cache.
func (s *CartService) CurrentCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.repo.GetByUser(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return models.NewCart(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) loadCart(ctx context.Context, userID string) (*models.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("cart cache get error: %v", err)
	}

	cart, err = s.CurrentCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, userID, cart); err != nil {
		log.Printf("cart cache set error: %v", err)
	}
	return cart, nil
}

func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	if productID == "" || quantity < 1 {
		return nil, fmt.Errorf("%w: productId and a quantity of at least 1 are required", ErrValidation)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, productError(productID, err)
	}

	return s.mutate(ctx, userID, true, func(cart *models.Cart) error {
		i := cart.FindItem(productID)
		requested := quantity
		if i >= 0 {
			requested += cart.Items[i].Quantity
		}
		if requested > product.Stock {
			return fmt.Errorf("%w: only %d of %s available", ErrInsufficientStock, product.Stock, product.Title)
		}

		if i >= 0 {
			cart.Items[i].Quantity = requested
			return nil
		}
		cart.Items = append(cart.Items, models.CartItem{
			ProductID:    product.ID,
			Name:         product.Title,
			Image:        product.Image,
			UnitPrice:    product.Price,
			UnitDiscount: product.Discount,
			UnitDelivery: product.DeliveryCharge,
			Quantity:     quantity,
		})
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	return s.mutate(ctx, userID, false, func(cart *models.Cart) error {
		if !cart.RemoveItem(productID) {
			return fmt.Errorf("%w: product %s is not in the cart", ErrNotFound, productID)
		}
		return nil
	})
}

// ChangeQuantity adds delta to the line quantity. Stock is only checked when
// the quantity grows.
func (s *CartService) ChangeQuantity(ctx context.Context, userID, productID string, delta int) (*models.Cart, error) {
	return s.mutate(ctx, userID, false, func(cart *models.Cart) error {
		i := cart.FindItem(productID)
		if i < 0 {
			return fmt.Errorf("%w: product %s is not in the cart", ErrNotFound, productID)
		}

		next := cart.Items[i].Quantity + delta
		if next < 1 {
			return ErrInvalidQuantity
		}
		if delta > 0 {
			product, err := s.catalog.GetProduct(ctx, productID)
			if err != nil {
				return productError(productID, err)
			}
			if next > product.Stock {
				return fmt.Errorf("%w: only %d of %s available", ErrInsufficientStock, product.Stock, product.Title)
			}
		}

		cart.Items[i].Quantity = next
		return nil
	})
}

// Clear empties an existing cart. The cart document itself is kept.
func (s *CartService) Clear(ctx context.Context, userID string) (*models.Cart, error) {
	return s.mutate(ctx, userID, false, func(cart *models.Cart) error {
		cart.Clear()
		return nil
	})
}

// mutate applies fn to a fresh copy of the cart and saves it, retrying when
// another request saved the same cart in between.
func (s *CartService) mutate(ctx context.Context, userID string, create bool, fn func(*models.Cart) error) (*models.Cart, error) {
	for attempt := 1; attempt <= maxCartRetries; attempt++ {
		cart, err := s.repo.GetByUser(ctx, userID)
		switch {
		case errors.Is(err, repository.ErrCartNotFound):
			if !create {
				return nil, fmt.Errorf("%w: cart not found", ErrNotFound)
			}
			cart = models.NewCart(userID)
		case err != nil:
			return nil, err
		}

		if err := fn(cart); err != nil {
			return nil, err
		}

		err = s.repo.Save(ctx, cart)
		if errors.Is(err, repository.ErrVersionConflict) {
			log.Printf("cart of user %s changed concurrently, retrying (%d/%d)", userID, attempt, maxCartRetries)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.storeInCache(userID, cart)
		return cart, nil
	}
	return nil, ErrConflict
}

// storeInCache writes the saved cart through to the cache. If that fails the
// entry is dropped so the next read goes to the repository.
func (s *CartService) storeInCache(userID string, cart *models.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.cache.Set(ctx, userID, cart)
	if err == nil {
		return
	}
	log.Printf("cart cache write error: %v", err)
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Printf("cart cache invalidate error: %v", err)
	}
}

func (s *CartService) refreshDisplay(ctx context.Context, cart *models.Cart) {
	for i := range cart.Items {
		product, err := s.catalog.GetProduct(ctx, cart.Items[i].ProductID)
		if err != nil {
			if !errors.Is(err, repository.ErrProductNotFound) {
				log.Printf("cart display refresh for product %s failed: %v", cart.Items[i].ProductID, err)
			}
			continue
		}
		cart.Items[i].Name = product.Title
		cart.Items[i].Image = product.Image
	}
}

func productError(productID string, err error) error {
	if errors.Is(err, repository.ErrProductNotFound) {
		return fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return err
}
