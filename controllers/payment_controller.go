package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"marketplace-service/middlewares"
	"marketplace-service/models"
	"marketplace-service/services"
)

type CheckoutManager interface {
	InitiateCheckout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error)
	ConfirmPayment(ctx context.Context, req services.PaymentConfirmation) (*services.ConfirmResult, error)
	PlaceCashOrder(ctx context.Context, req services.CheckoutRequest) (*models.Order, error)
}

type orderRequest struct {
	Amount          float64                `json:"amount"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	TotalDiscount   float64                `json:"totalDiscount"` // ignored, the cart's discount is used
}

func (r orderRequest) checkout(userID string) services.CheckoutRequest {
	return services.CheckoutRequest{
		UserID:          userID,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   r.PaymentMethod,
		Amount:          r.Amount,
	}
}

type PaymentController struct {
	checkout   CheckoutManager
	successURL string
	failureURL string
}

func NewPaymentController(checkout CheckoutManager, successURL, failureURL string) *PaymentController {
	return &PaymentController{
		checkout:   checkout,
		successURL: successURL,
		failureURL: failureURL,
	}
}

func (ctl *PaymentController) CreateOrder(c *gin.Context) {
	defer func() { middlewares.RecordOperation("checkout", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var request orderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := ctl.checkout.InitiateCheckout(c.Request.Context(), request.checkout(userID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// PlaceOrder creates a cash on delivery order from the caller's cart.
func (ctl *PaymentController) PlaceOrder(c *gin.Context) {
	defer func() { middlewares.RecordOperation("order_place", succeeded(c)) }()
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var request orderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := ctl.checkout.PlaceCashOrder(c.Request.Context(), request.checkout(userID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// VerifyPayment receives the gateway callback. The browser is redirected to
// the storefront on success or failure; a forged or malformed callback gets a
// plain 400.
func (ctl *PaymentController) VerifyPayment(c *gin.Context) {
	defer func() { middlewares.RecordOperation("payment_verify", succeeded(c)) }()

	var request struct {
		GatewayOrderID   string `json:"gatewayOrderId" form:"gatewayOrderId"`
		GatewayPaymentID string `json:"gatewayPaymentId" form:"gatewayPaymentId"`
		GatewaySignature string `json:"gatewaySignature" form:"gatewaySignature"`
	}
	if err := c.ShouldBind(&request); err != nil {
		middlewares.RecordPaymentVerification("failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := ctl.checkout.ConfirmPayment(c.Request.Context(), services.PaymentConfirmation{
		GatewayOrderID:   request.GatewayOrderID,
		GatewayPaymentID: request.GatewayPaymentID,
		Signature:        request.GatewaySignature,
		UserID:           c.GetString("userID"),
	})
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		middlewares.RecordPaymentVerification("invalid_signature")
		respondError(c, err)
		return
	case errors.Is(err, services.ErrValidation):
		middlewares.RecordPaymentVerification("failed")
		respondError(c, err)
		return
	case err != nil:
		middlewares.RecordPaymentVerification("failed")
		log.Printf("Payment verification for gateway order %s failed: %v", request.GatewayOrderID, err)
		c.Redirect(http.StatusSeeOther, withQuery(ctl.failureURL, "reason", failureReason(err)))
		return
	}

	if result.AlreadyProcessed {
		middlewares.RecordPaymentVerification("duplicate")
	} else {
		middlewares.RecordPaymentVerification("confirmed")
	}
	middlewares.RecordStockShortfalls(len(result.Shortfalls))

	c.Redirect(http.StatusSeeOther, withQuery(ctl.successURL, "reference", request.GatewayPaymentID))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, services.ErrOrderNotPending):
		return "order_not_pending"
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	default:
		return "internal_error"
	}
}

func withQuery(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
