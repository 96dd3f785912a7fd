package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"marketplace-service/models"
	"marketplace-service/repository"
)

type OrderConfig struct {
	// StrictTransitions enforces the status transition table. When false any
	// status may follow any other, repeated statuses included.
	StrictTransitions bool
}

// OrderService owns the order status lifecycle after checkout.
type OrderService struct {
	orders OrderRepository
	events EventPublisher
	cfg    OrderConfig
	now    func() time.Time
}

func NewOrderService(orders OrderRepository, events EventPublisher, cfg OrderConfig) *OrderService {
	return &OrderService{
		orders: orders,
		events: events,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) UpdateStatus(ctx context.Context, orderID, newStatus string, actor Actor) (*models.Order, error) {
	if !actor.canManageOrders() {
		return nil, fmt.Errorf("%w: only administrators can change order status", ErrForbidden)
	}

	status, ok := models.ParseOrderStatus(newStatus)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	var from []models.OrderStatus
	if s.cfg.StrictTransitions {
		from = models.SourcesFor(status)
		if len(from) == 0 {
			return nil, fmt.Errorf("%w: nothing can move to %s", ErrInvalidTransition, status)
		}
	}

	order, err := s.orders.AppendStatus(ctx, orderID, status, s.now(), from)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		return nil, ErrOrderNotFound
	case errors.Is(err, repository.ErrStatusMismatch):
		return nil, fmt.Errorf("%w: cannot move order %s to %s", ErrInvalidTransition, orderID, status)
	case err != nil:
		return nil, err
	}

	log.Printf("Order %s moved to %s by %s (%s)", order.ID, status, actor.UserID, actor.Role)

	priority := uint8(5)
	if status == models.StatusCancelled || status == models.StatusRefunded {
		priority = 8
	}
	publish(ctx, s.events, models.NewOrderEvent(order, models.EventStatusUpdated, s.now()), priority)
	return order, nil
}

// ExpirePending cancels the order only if it is still Pending. It reports
// whether the order was cancelled.
func (s *OrderService) ExpirePending(ctx context.Context, orderID string) (bool, error) {
	order, err := s.orders.AppendStatus(ctx, orderID, models.StatusCancelled, s.now(), []models.OrderStatus{models.StatusPending})
	switch {
	case errors.Is(err, repository.ErrStatusMismatch):
		return false, nil
	case errors.Is(err, repository.ErrOrderNotFound):
		return false, ErrOrderNotFound
	case err != nil:
		return false, err
	}

	publish(ctx, s.events, models.NewOrderEvent(order, models.EventStatusUpdated, s.now()), 8)
	return true, nil
}

func (s *OrderService) ListForUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// Get returns the order to its owner or an administrator. Anyone else gets
// ErrOrderNotFound.
func (s *OrderService) Get(ctx context.Context, orderID string, actor Actor) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
