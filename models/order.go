package models

import (
	"time"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "Pending"
	StatusConfirmed OrderStatus = "Confirmed"
	StatusShipped   OrderStatus = "Shipped"
	StatusDelivered OrderStatus = "Delivered"
	StatusCancelled OrderStatus = "Cancelled"
	StatusRefunded  OrderStatus = "Refunded"
)

var orderStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
}

// allowedTransitions is only consulted when strict transitions are enabled.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:   {StatusDelivered, StatusCancelled, StatusRefunded},
}

// ParseOrderStatus accepts only the six recognised status names.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range orderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// CanTransitionTo checks the strict transition table.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, st := range allowedTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses from which next is reachable under the
// strict table.
func SourcesFor(next OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, st := range orderStatuses {
		if st.CanTransitionTo(next) {
			sources = append(sources, st)
		}
	}
	return sources
}

type PaymentMethod string

const (
	MethodOnline         PaymentMethod = "onlinePayment"
	MethodCashOnDelivery PaymentMethod = "CashOnDelivery"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(s) {
	case MethodOnline, MethodCashOnDelivery:
		return PaymentMethod(s), true
	}
	return "", false
}

type Order struct {
	ID               string           `bson:"_id" json:"id"`
	UserID           string           `bson:"user_id" json:"userId"`
	Items            []OrderItem      `bson:"items" json:"items"`
	ShippingAddress  ShippingAddress  `bson:"shipping_address" json:"shippingAddress"`
	PaymentMethod    PaymentMethod    `bson:"payment_method" json:"paymentMethod"`
	TotalPrice       float64          `bson:"total_price" json:"totalPrice"`
	TotalDiscount    float64          `bson:"total_discount" json:"totalDiscount"`
	Status           OrderStatus      `bson:"status" json:"status"`
	StatusHistory    []StatusEntry    `bson:"status_history" json:"statusHistory"`
	GatewayOrderID   string           `bson:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string           `bson:"gateway_payment_id,omitempty" json:"gatewayPaymentId,omitempty"`
	StockShortfalls  []StockShortfall `bson:"stock_shortfalls,omitempty" json:"stockShortfalls,omitempty"`
	OrderedAt        time.Time        `bson:"ordered_at" json:"orderedAt"`
	PaidAt           *time.Time       `bson:"paid_at,omitempty" json:"paidAt,omitempty"`
	DeliveredAt      *time.Time       `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
}

// OrderItem is the frozen checkout line; it never follows the live cart.
type OrderItem struct {
	ProductID string `bson:"product_id" json:"productId"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

type ShippingAddress struct {
	FullName     string `bson:"full_name" json:"fullName" form:"fullName" binding:"required"`
	Phone        string `bson:"phone" json:"phone" form:"phone" binding:"required"`
	AddressLine1 string `bson:"address_line1" json:"addressLine1" form:"addressLine1" binding:"required"`
	City         string `bson:"city" json:"city" form:"city" binding:"required"`
	Pincode      string `bson:"pincode" json:"pincode" form:"pincode" binding:"required"`
	Country      string `bson:"country" json:"country" form:"country" binding:"required"`
	State        string `bson:"state" json:"state" form:"state" binding:"required"`
}

// Complete reports whether every address field is filled in.
func (a ShippingAddress) Complete() bool {
	return a.FullName != "" && a.Phone != "" && a.AddressLine1 != "" &&
		a.City != "" && a.Pincode != "" && a.Country != "" && a.State != ""
}

type StatusEntry struct {
	Status    OrderStatus `bson:"status" json:"status"`
	ChangedAt time.Time   `bson:"changed_at" json:"changedAt"`
}

// StockShortfall records a line whose stock could not be decremented after
// the payment had already been confirmed.
type StockShortfall struct {
	ProductID  string    `bson:"product_id" json:"productId"`
	Quantity   int       `bson:"quantity" json:"quantity"`
	Reason     string    `bson:"reason" json:"reason"`
	DetectedAt time.Time `bson:"detected_at" json:"detectedAt"`
}

// NewPendingOrder builds the checkout snapshot with its initial history.
func NewPendingOrder(id, userID string, items []OrderItem, addr ShippingAddress, method PaymentMethod, total, discount float64, gatewayOrderID string, now time.Time) *Order {
	return &Order{
		ID:              id,
		UserID:          userID,
		Items:           items,
		ShippingAddress: addr,
		PaymentMethod:   method,
		TotalPrice:      total,
		TotalDiscount:   discount,
		Status:          StatusPending,
		StatusHistory:   []StatusEntry{{Status: StatusPending, ChangedAt: now}},
		GatewayOrderID:  gatewayOrderID,
		OrderedAt:       now,
	}
}

// ApplyStatus moves the order to status and appends the history entry.
func (o *Order) ApplyStatus(status OrderStatus, at time.Time) {
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: status, ChangedAt: at})
	if status == StatusDelivered {
		o.DeliveredAt = &at
	}
}

// MarkPaid confirms a Pending order for the given gateway payment.
func (o *Order) MarkPaid(gatewayPaymentID string, at time.Time) {
	o.GatewayPaymentID = gatewayPaymentID
	o.PaidAt = &at
	o.ApplyStatus(StatusConfirmed, at)
}

// HistoryConsistent reports whether the last history entry matches Status.
func (o *Order) HistoryConsistent() bool {
	if len(o.StatusHistory) == 0 {
		return false
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status == o.Status
}

// OrderEvent is published on the order exchange for every lifecycle change.
type OrderEvent struct {
	OrderID  string    `json:"order_id"`
	UserID   string    `json:"user_id"`
	Type     string    `json:"type"` // created, confirmed, status_updated, stock_shortfall, payment_check
	Status   string    `json:"status"`
	Total    float64   `json:"total"`
	Occurred time.Time `json:"occurred"`
}

const (
	EventCreated        = "created"
	EventConfirmed      = "confirmed"
	EventStatusUpdated  = "status_updated"
	EventStockShortfall = "stock_shortfall"
	EventPaymentCheck   = "payment_check"
)

func NewOrderEvent(o *Order, eventType string, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Type:     eventType,
		Status:   string(o.Status),
		Total:    o.TotalPrice,
		Occurred: at,
	}
}
