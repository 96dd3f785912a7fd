package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace-service/models"
)

type OrderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection("orders")}
}

func (r *OrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "gateway_order_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"gateway_order_id": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "ordered_at", Value: -1}},
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if _, err := r.collection.InsertOne(ctx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": orderID})
}

func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"gateway_order_id": gatewayOrderID})
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ordered_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	return orders, nil
}

// MarkPaid moves a Pending order to Confirmed in one conditional write. It
// returns ErrStatusMismatch when the order already left Pending.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID, gatewayPaymentID string, at time.Time) (*models.Order, error) {
	filter := bson.M{"_id": orderID, "status": models.StatusPending}
	update := bson.M{
		"$set": bson.M{
			"status":             models.StatusConfirmed,
			"gateway_payment_id": gatewayPaymentID,
			"paid_at":            at,
		},
		"$push": bson.M{
			"status_history": models.StatusEntry{Status: models.StatusConfirmed, ChangedAt: at},
		},
	}

	order, err := r.findOneAndUpdate(ctx, filter, update)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, r.missOrMismatch(ctx, orderID)
	}
	return order, err
}

// AppendStatus sets the status and appends it to the history. When from is
// not empty the order must currently be in one of those statuses.
func (r *OrderRepository) AppendStatus(ctx context.Context, orderID string, status models.OrderStatus, at time.Time, from []models.OrderStatus) (*models.Order, error) {
	filter := bson.M{"_id": orderID}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}

	set := bson.M{"status": status}
	if status == models.StatusDelivered {
		set["delivered_at"] = at
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"status_history": models.StatusEntry{Status: status, ChangedAt: at}},
	}

	order, err := r.findOneAndUpdate(ctx, filter, update)
	if errors.Is(err, ErrOrderNotFound) && len(from) > 0 {
		return nil, r.missOrMismatch(ctx, orderID)
	}
	return order, err
}

func (r *OrderRepository) AddShortfalls(ctx context.Context, orderID string, shortfalls []models.StockShortfall) error {
	update := bson.M{"$push": bson.M{"stock_shortfalls": bson.M{"$each": shortfalls}}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": orderID}, update)
	if err != nil {
		return fmt.Errorf("failed to record stock shortfalls: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var order models.Order
	if err := r.collection.FindOne(ctx, filter).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (r *OrderRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.Order, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order models.Order
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	return &order, nil
}

func (r *OrderRepository) missOrMismatch(ctx context.Context, orderID string) error {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": orderID})
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return ErrStatusMismatch
}
