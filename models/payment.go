package models

import "time"

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentSuccess  PaymentStatus = "Success"
	PaymentFailed   PaymentStatus = "Failed"
	PaymentRefunded PaymentStatus = "Refunded"
)

const (
	GatewayRazorpay = "Razorpay"
	GatewayManual   = "Manual"
)

// Payment is written once per successful gateway payment. TransactionID is
// unique across the collection.
type Payment struct {
	ID            string        `bson:"_id" json:"id"`
	OrderID       string        `bson:"order_id" json:"orderId"`
	UserID        string        `bson:"user_id" json:"userId"`
	Amount        float64       `bson:"amount" json:"amount"`
	Method        PaymentMethod `bson:"method" json:"method"`
	Status        PaymentStatus `bson:"status" json:"status"`
	TransactionID string        `bson:"transaction_id" json:"transactionId"`
	Gateway       string        `bson:"gateway" json:"gateway"`
	PaidAt        time.Time     `bson:"paid_at" json:"paidAt"`
}
