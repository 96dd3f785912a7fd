package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace-service/gateway"
	"marketplace-service/models"
	"marketplace-service/repository"
)

type CheckoutConfig struct {
	Currency string
	// GatewaySecret keys the HMAC the gateway signs confirmations with.
	GatewaySecret string

	// PendingOrderTTL schedules a payment check for new orders; zero disables it.
	PendingOrderTTL time.Duration
}

// CartStore is the part of the cart engine checkout needs. CurrentCart must
// read the stored cart, never a cached copy.
type CartStore interface {
	CurrentCart(ctx context.Context, userID string) (*models.Cart, error)
	Clear(ctx context.Context, userID string) (*models.Cart, error)
}

type CheckoutService struct {
	carts    CartStore
	orders   OrderRepository
	payments PaymentRepository
	catalog  Catalog
	gateway  gateway.Client
	events   EventPublisher
	cfg      CheckoutConfig
	now      func() time.Time
}

func NewCheckoutService(
	carts CartStore,
	orders OrderRepository,
	payments PaymentRepository,
	catalog Catalog,
	gw gateway.Client,
	events EventPublisher,
	cfg CheckoutConfig,
) *CheckoutService {
	return &CheckoutService{
		carts:    carts,
		orders:   orders,
		payments: payments,
		catalog:  catalog,
		gateway:  gw,
		events:   events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CheckoutRequest struct {
	UserID          string
	ShippingAddress models.ShippingAddress
	PaymentMethod   string

	// Amount is the total the client displayed; zero skips the comparison.
	Amount float64
}

type CheckoutResult struct {
	GatewayOrder *gateway.Intent `json:"gatewayOrder"`
	Order        *models.Order   `json:"order"`
}

type PaymentConfirmation struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string

	// UserID is the caller's identity when the callback carried one.
	UserID string
}

type ConfirmResult struct {
	Order            *models.Order
	Payment          *models.Payment
	Shortfalls       []models.StockShortfall
	AlreadyProcessed bool
}

// InitiateCheckout prices the cart, opens a gateway intent and stores a
// Pending order. Stock and cart stay untouched until payment is confirmed.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	cart, err := s.checkoutCart(ctx, req, models.MethodOnline)
	if err != nil {
		return nil, err
	}
	items := orderItems(cart)

	orderID := uuid.NewString()
	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		Amount:   cart.GrandTotal,
		Currency: s.cfg.Currency,
		Receipt:  "rcpt_" + strings.ReplaceAll(orderID, "-", ""),
		Notes:    map[string]string{"order_id": orderID, "user_id": req.UserID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	now := s.now()
	order := models.NewPendingOrder(orderID, req.UserID, items, req.ShippingAddress, models.MethodOnline,
		cart.GrandTotal, cart.TotalDiscount, intent.ID, now)
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	log.Printf("Order %s created for user %s, gateway order %s, total %.2f", order.ID, order.UserID, intent.ID, order.TotalPrice)

	event := models.NewOrderEvent(order, models.EventCreated, now)
	publish(ctx, s.events, event, createdPriority(order))

	if s.cfg.PendingOrderTTL > 0 && s.events != nil {
		event.Type = models.EventPaymentCheck
		if err := s.events.PublishDelayedEvent(ctx, event, s.cfg.PendingOrderTTL); err != nil {
			log.Printf("Failed to schedule payment check for order %s: %v", order.ID, err)
		}
	}

	return &CheckoutResult{GatewayOrder: intent, Order: order}, nil
}

// PlaceCashOrder stores a cash on delivery order from the cart without
// involving the gateway. Stock is taken and the cart cleared right away, and
// the order stays Pending until an administrator confirms it.
func (s *CheckoutService) PlaceCashOrder(ctx context.Context, req CheckoutRequest) (*models.Order, error) {
	cart, err := s.checkoutCart(ctx, req, models.MethodCashOnDelivery)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := models.NewPendingOrder(uuid.NewString(), req.UserID, orderItems(cart), req.ShippingAddress,
		models.MethodCashOnDelivery, cart.GrandTotal, cart.TotalDiscount, "", now)
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	log.Printf("Cash on delivery order %s created for user %s, total %.2f", order.ID, order.UserID, order.TotalPrice)

	s.takeStock(ctx, order, now)
	s.clearCart(ctx, order.UserID)
	publish(ctx, s.events, models.NewOrderEvent(order, models.EventCreated, now), createdPriority(order))
	return order, nil
}

// checkoutCart loads the stored cart and validates the request against it.
// An empty payment method means method.
func (s *CheckoutService) checkoutCart(ctx context.Context, req CheckoutRequest, method models.PaymentMethod) (*models.Cart, error) {
	cart, err := s.carts.CurrentCart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	if req.PaymentMethod != "" {
		m, ok := models.ParsePaymentMethod(req.PaymentMethod)
		if !ok {
			return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, req.PaymentMethod)
		}
		if m != method {
			return nil, fmt.Errorf("%w: %s orders cannot be placed as %s", ErrValidation, m, method)
		}
	}
	if !req.ShippingAddress.Complete() {
		return nil, fmt.Errorf("%w: shipping address is incomplete", ErrValidation)
	}
	if req.Amount != 0 && !sameAmount(req.Amount, cart.GrandTotal) {
		return nil, fmt.Errorf("%w: amount %.2f does not match cart total %.2f", ErrValidation, req.Amount, cart.GrandTotal)
	}
	return cart, nil
}

func orderItems(cart *models.Cart) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, models.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

func createdPriority(order *models.Order) uint8 {
	if order.TotalPrice > 1000 {
		return 9
	}
	return 5
}

// ConfirmPayment handles the gateway callback. Nothing is read or written
// before the signature has been verified, and the confirmation effects run at
// most once per gateway payment.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, req PaymentConfirmation) (*ConfirmResult, error) {
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, fmt.Errorf("%w: gatewayOrderId, gatewayPaymentId and gatewaySignature are required", ErrValidation)
	}
	if !gateway.VerifySignature(s.cfg.GatewaySecret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		log.Printf("SECURITY: payment confirmation with invalid signature rejected (gateway order %s, payment %s, user %q)",
			req.GatewayOrderID, req.GatewayPaymentID, req.UserID)
		return nil, ErrInvalidSignature
	}

	order, err := s.orders.GetByGatewayOrderID(ctx, req.GatewayOrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != order.UserID {
		log.Printf("SECURITY: user %s tried to confirm order %s owned by %s", req.UserID, order.ID, order.UserID)
		return nil, ErrForbidden
	}

	now := s.now()
	confirmed, err := s.orders.MarkPaid(ctx, order.ID, req.GatewayPaymentID, now)
	switch {
	case errors.Is(err, repository.ErrStatusMismatch):
		return s.replay(ctx, order.ID, req.GatewayPaymentID)
	case errors.Is(err, repository.ErrOrderNotFound):
		return nil, ErrOrderNotFound
	case err != nil:
		return nil, err
	}

	shortfalls := s.takeStock(ctx, confirmed, now)

	payment, _, err := s.recordPayment(ctx, confirmed, req.GatewayPaymentID, now)
	if err != nil {
		return nil, err
	}

	s.clearCart(ctx, confirmed.UserID)
	publish(ctx, s.events, models.NewOrderEvent(confirmed, models.EventConfirmed, now), 7)
	log.Printf("Order %s confirmed with gateway payment %s", confirmed.ID, req.GatewayPaymentID)

	return &ConfirmResult{Order: confirmed, Payment: payment, Shortfalls: shortfalls}, nil
}

// replay answers a repeated confirmation. Stock is not touched again. The
// payment record is written if the first delivery stopped before it, and only
// then is the cart cleared.
func (s *CheckoutService) replay(ctx context.Context, orderID, gatewayPaymentID string) (*ConfirmResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.GatewayPaymentID != gatewayPaymentID {
		log.Printf("Order %s is %s, refusing confirmation with payment %s", order.ID, order.Status, gatewayPaymentID)
		return nil, ErrOrderNotPending
	}

	paidAt := s.now()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	payment, created, err := s.recordPayment(ctx, order, gatewayPaymentID, paidAt)
	if err != nil {
		return nil, err
	}
	if created {
		s.clearCart(ctx, order.UserID)
	}

	log.Printf("Duplicate confirmation for order %s, payment %s already processed", order.ID, gatewayPaymentID)
	return &ConfirmResult{Order: order, Payment: payment, AlreadyProcessed: true}, nil
}

// takeStock decrements stock for every line and records what could not be
// taken on the order.
func (s *CheckoutService) takeStock(ctx context.Context, order *models.Order, now time.Time) []models.StockShortfall {
	shortfalls := s.decrementStock(ctx, order, now)
	if len(shortfalls) == 0 {
		return nil
	}
	if err := s.orders.AddShortfalls(ctx, order.ID, shortfalls); err != nil {
		log.Printf("Failed to record stock shortfalls on order %s: %v", order.ID, err)
	}
	order.StockShortfalls = append(order.StockShortfalls, shortfalls...)
	publish(ctx, s.events, models.NewOrderEvent(order, models.EventStockShortfall, now), 9)
	return shortfalls
}

func (s *CheckoutService) decrementStock(ctx context.Context, order *models.Order, now time.Time) []models.StockShortfall {
	var shortfalls []models.StockShortfall
	for _, item := range order.Items {
		err := s.catalog.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}

		reason := err.Error()
		switch {
		case errors.Is(err, repository.ErrStockExhausted):
			reason = "insufficient stock"
		case errors.Is(err, repository.ErrProductNotFound):
			reason = "product not found"
		}
		log.Printf("Stock shortfall on order %s: product %s quantity %d: %s", order.ID, item.ProductID, item.Quantity, reason)
		shortfalls = append(shortfalls, models.StockShortfall{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Reason:     reason,
			DetectedAt: now,
		})
	}
	return shortfalls
}

// recordPayment inserts the payment and reports whether this call created it.
// An existing record for the transaction is returned as is.
func (s *CheckoutService) recordPayment(ctx context.Context, order *models.Order, gatewayPaymentID string, paidAt time.Time) (*models.Payment, bool, error) {
	payment := &models.Payment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        order.TotalPrice,
		Method:        order.PaymentMethod,
		Status:        models.PaymentSuccess,
		TransactionID: gatewayPaymentID,
		Gateway:       s.gateway.Name(),
		PaidAt:        paidAt,
	}

	err := s.payments.Create(ctx, payment)
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		log.Printf("Payment %s already recorded", gatewayPaymentID)
		existing, err := s.payments.GetByTransactionID(ctx, gatewayPaymentID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return payment, true, nil
}

func (s *CheckoutService) clearCart(ctx context.Context, userID string) {
	if _, err := s.carts.Clear(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("Failed to clear cart of user %s after checkout: %v", userID, err)
	}
}

func sameAmount(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}
