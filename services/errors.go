package services

import "errors"

var (
	ErrValidation        = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("user not authenticated")
	ErrForbidden         = errors.New("access denied")
	ErrConflict          = errors.New("concurrent modification, please retry")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity cannot be less than 1")
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrInvalidSignature  = errors.New("invalid payment signature")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotPending   = errors.New("order is not awaiting payment")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("order status transition not allowed")
	ErrGateway           = errors.New("payment gateway error")
)
