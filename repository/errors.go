package repository

import "errors"

var (
	ErrCartNotFound         = errors.New("cart not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrStockExhausted       = errors.New("not enough stock to decrement")
	ErrVersionConflict      = errors.New("document was modified concurrently")
	ErrStatusMismatch       = errors.New("order is not in the expected status")
	ErrDuplicateTransaction = errors.New("payment with this transaction id already exists")
)
