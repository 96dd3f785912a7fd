package models

// Product is the catalog projection the cart and checkout need. The catalog
// owns the record; this service only reads it and decrements Stock.
type Product struct {
	ID             string  `json:"id"`
	SellerID       string  `json:"sellerId"`
	Title          string  `json:"title"`
	Image          string  `json:"image"`
	Price          float64 `json:"price"`
	Discount       float64 `json:"discount"`
	DeliveryCharge float64 `json:"deliveryCharge"`
	Stock          int     `json:"stock"`
}
