package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the single active cart of a user. Totals are derived from Items and
// must only be written through Recalculate.
type Cart struct {
	ID            string     `bson:"_id" json:"id"`
	UserID        string     `bson:"user_id" json:"userId"`
	Items         []CartItem `bson:"items" json:"items"`
	Subtotal      float64    `bson:"subtotal" json:"subtotal"`
	TotalDiscount float64    `bson:"total_discount" json:"totalDiscount"`
	DeliveryTotal float64    `bson:"delivery_total" json:"deliveryTotal"`
	GrandTotal    float64    `bson:"grand_total" json:"grandTotal"`
	Active        bool       `bson:"active" json:"active"`
	Version       int64      `bson:"version" json:"-"`
	CreatedAt     time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updatedAt"`
}

// CartItem keeps the catalog prices seen when the product was added.
type CartItem struct {
	ProductID    string  `bson:"product_id" json:"productId"`
	Name         string  `bson:"name" json:"name"`
	Image        string  `bson:"image" json:"image"`
	UnitPrice    float64 `bson:"unit_price" json:"unitPrice"`
	UnitDiscount float64 `bson:"unit_discount" json:"unitDiscount"`
	UnitDelivery float64 `bson:"unit_delivery" json:"unitDelivery"`
	Quantity     int     `bson:"quantity" json:"quantity"`
}

// NewCart returns the empty cart shape for a user.
func NewCart(userID string) *Cart {
	return &Cart{
		UserID: userID,
		Items:  []CartItem{},
		Active: true,
	}
}

// FindItem returns the index of the line for productID, or -1.
func (c *Cart) FindItem(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// RemoveItem drops the line for productID and reports whether it existed.
func (c *Cart) RemoveItem(productID string) bool {
	i := c.FindItem(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

// Clear empties the cart and zeroes the totals.
func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.Recalculate()
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Recalculate derives every total from the current items.
func (c *Cart) Recalculate() {
	subtotal := decimal.Zero
	discount := decimal.Zero
	delivery := decimal.Zero

	for _, item := range c.Items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(decimal.NewFromFloat(item.UnitPrice).Mul(qty))
		discount = discount.Add(decimal.NewFromFloat(item.UnitDiscount).Mul(qty))
		delivery = delivery.Add(decimal.NewFromFloat(item.UnitDelivery).Mul(qty))
	}

	c.Subtotal = money(subtotal)
	c.TotalDiscount = money(discount)
	c.DeliveryTotal = money(delivery)
	c.GrandTotal = money(subtotal.Add(delivery).Sub(discount))
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
