package services

import (
	"context"
	"log"
	"time"

	"marketplace-service/models"
)

type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	DecrementStock(ctx context.Context, productID string, quantity int) error
}

type CartRepository interface {
	GetByUser(ctx context.Context, userID string) (*models.Cart, error)
	Save(ctx context.Context, cart *models.Cart) error
}

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, orderID string) (*models.Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	MarkPaid(ctx context.Context, orderID, gatewayPaymentID string, at time.Time) (*models.Order, error)
	AppendStatus(ctx context.Context, orderID string, status models.OrderStatus, at time.Time, from []models.OrderStatus) (*models.Order, error)
	AddShortfalls(ctx context.Context, orderID string, shortfalls []models.StockShortfall) error
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
}

// EventPublisher sends order lifecycle events to the message broker.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

const (
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Actor is the verified caller of an operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) canManageOrders() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// publish sends the event if a broker is wired; failures are only logged
// because the state change they describe has already been stored.
func publish(ctx context.Context, events EventPublisher, event models.OrderEvent, priority uint8) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event, priority); err != nil {
		log.Printf("Failed to publish order %s event for %s: %v", event.Type, event.OrderID, err)
	}
}
