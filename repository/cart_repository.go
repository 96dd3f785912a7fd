package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type CartRepository struct {
	collection *mongo.Collection
}

func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{collection: db.Collection("carts")}
}

func (r *CartRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	return nil
}

func (r *CartRepository) GetByUser(ctx context.Context, userID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return &cart, nil
}

// Save recomputes the totals and persists the cart. A cart with Version 0 is
// inserted; otherwise the write only succeeds if nobody saved in between.
func (r *CartRepository) Save(ctx context.Context, cart *models.Cart) error {
	now := time.Now().UTC()
	cart.Recalculate()

	if cart.Version == 0 {
		if cart.ID == "" {
			cart.ID = uuid.NewString()
		}
		cart.Version = 1
		cart.CreatedAt = now
		cart.UpdatedAt = now
		if _, err := r.collection.InsertOne(ctx, cart); err != nil {
			cart.Version = 0
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to create cart: %w", err)
		}
		return nil
	}

	expected := cart.Version
	cart.Version++
	cart.UpdatedAt = now

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": cart.ID, "version": expected}, cart)
	if err != nil {
		cart.Version = expected
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		cart.Version = expected
		return ErrVersionConflict
	}
	return nil
}
