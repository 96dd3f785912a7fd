package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-service/cache"
	"marketplace-service/gateway"
	"marketplace-service/models"
)

const testSecret = "gateway-secret"

type checkoutFixture struct {
	svc      *CheckoutService
	carts    *CartService
	catalog  *fakeCatalog
	orders   *fakeOrderRepo
	payments *fakePaymentRepo
	gateway  *fakeGateway
	events   *fakePublisher
}

func newCheckoutFixture(t *testing.T, cfg CheckoutConfig) *checkoutFixture {
	t.Helper()
	return newCheckoutFixtureWithCache(t, cfg, nil)
}

func newCheckoutFixtureWithCache(t *testing.T, cfg CheckoutConfig, c cache.CartCache) *checkoutFixture {
	t.Helper()
	catalog := newFakeCatalog(testProduct())
	carts := NewCartService(newFakeCartRepo(), catalog, c)
	f := &checkoutFixture{
		carts:    carts,
		catalog:  catalog,
		orders:   newFakeOrderRepo(),
		payments: newFakePaymentRepo(),
		gateway:  &fakeGateway{},
		events:   &fakePublisher{},
	}
	if cfg.GatewaySecret == "" {
		cfg.GatewaySecret = testSecret
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	f.svc = NewCheckoutService(carts, f.orders, f.payments, catalog, f.gateway, f.events, cfg)
	return f
}

func testAddress() models.ShippingAddress {
	return models.ShippingAddress{
		FullName:     "Asha Rao",
		Phone:        "9999999999",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		Pincode:      "560001",
		Country:      "India",
		State:        "KA",
	}
}

// checkout fills u1's cart with two kettles and opens a checkout.
func (f *checkoutFixture) checkout(t *testing.T) *CheckoutResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)

	result, err := f.svc.InitiateCheckout(ctx, CheckoutRequest{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   "onlinePayment",
		Amount:          190,
	})
	require.NoError(t, err)
	return result
}

func (f *checkoutFixture) confirmation(gatewayOrderID, paymentID string) PaymentConfirmation {
	return PaymentConfirmation{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        gateway.Sign(testSecret, gatewayOrderID, paymentID),
		UserID:           "u1",
	}
}

func TestInitiateCheckout_CreatesPendingOrder(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)

	order := result.Order
	assert.Equal(t, models.StatusPending, order.Status)
	require.Len(t, order.StatusHistory, 1)
	assert.Equal(t, models.StatusPending, order.StatusHistory[0].Status)
	assert.Equal(t, 190.0, order.TotalPrice)
	assert.Equal(t, 20.0, order.TotalDiscount)
	assert.Equal(t, []models.OrderItem{{ProductID: "p1", Quantity: 2}}, order.Items)
	assert.Equal(t, result.GatewayOrder.ID, order.GatewayOrderID)
	assert.Equal(t, models.MethodOnline, order.PaymentMethod)

	assert.Equal(t, int64(19000), result.GatewayOrder.Amount)
	assert.Equal(t, "INR", f.gateway.lastReq.Currency)
	assert.Equal(t, "rcpt_"+strings.ReplaceAll(order.ID, "-", ""), f.gateway.lastReq.Receipt)

	// nothing is reserved before payment
	assert.Equal(t, 5, f.catalog.stock("p1"))
	cart, err := f.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	created := f.events.ofType(models.EventCreated)
	require.Len(t, created, 1)
	assert.Equal(t, uint8(5), created[0].priority)
	assert.Empty(t, f.events.ofType(models.EventPaymentCheck))
}

func TestInitiateCheckout_SchedulesPaymentCheck(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{PendingOrderTTL: 30 * time.Minute})
	result := f.checkout(t)

	checks := f.events.ofType(models.EventPaymentCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, 30*time.Minute, checks[0].delay)
	assert.Equal(t, result.Order.ID, checks[0].event.OrderID)
}

func TestInitiateCheckout_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})

	_, err := f.svc.InitiateCheckout(context.Background(), CheckoutRequest{
		UserID:          "u1",
		ShippingAddress: testAddress(),
	})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, f.gateway.calls)
	assert.Zero(t, f.orders.count())
}

func TestInitiateCheckout_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CheckoutRequest
	}{
		{"cash on delivery", CheckoutRequest{ShippingAddress: testAddress(), PaymentMethod: "CashOnDelivery"}},
		{"unknown method", CheckoutRequest{ShippingAddress: testAddress(), PaymentMethod: "barter"}},
		{"incomplete address", CheckoutRequest{ShippingAddress: models.ShippingAddress{FullName: "Asha"}}},
		{"amount mismatch", CheckoutRequest{ShippingAddress: testAddress(), Amount: 189.99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t, CheckoutConfig{})
			_, err := f.carts.AddItem(context.Background(), "u1", "p1", 2)
			require.NoError(t, err)

			tt.req.UserID = "u1"
			_, err = f.svc.InitiateCheckout(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, f.gateway.calls)
			assert.Zero(t, f.orders.count())
		})
	}
}

func TestInitiateCheckout_GatewayFailure(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	f.gateway.failWith = gateway.ErrUnavailable
	_, err := f.carts.AddItem(context.Background(), "u1", "p1", 1)
	require.NoError(t, err)

	_, err = f.svc.InitiateCheckout(context.Background(), CheckoutRequest{UserID: "u1", ShippingAddress: testAddress()})
	assert.ErrorIs(t, err, ErrGateway)
	assert.Zero(t, f.orders.count())
}

func TestConfirmPayment_Success(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()

	confirmed, err := f.svc.ConfirmPayment(ctx, f.confirmation(result.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)
	assert.False(t, confirmed.AlreadyProcessed)
	assert.Empty(t, confirmed.Shortfalls)

	order, err := f.orders.GetByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.Equal(t, "pay_1", order.GatewayPaymentID)
	require.NotNil(t, order.PaidAt)
	assert.Len(t, order.StatusHistory, 2)
	assert.True(t, order.HistoryConsistent())

	assert.Equal(t, 3, f.catalog.stock("p1"))

	payment, err := f.payments.GetByTransactionID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 190.0, payment.Amount)
	assert.Equal(t, models.PaymentSuccess, payment.Status)
	assert.Equal(t, models.GatewayRazorpay, payment.Gateway)
	assert.Equal(t, models.MethodOnline, payment.Method)
	assert.Equal(t, order.ID, payment.OrderID)

	cart, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Zero(t, cart.GrandTotal)

	assert.Len(t, f.events.ofType(models.EventConfirmed), 1)
}

func TestConfirmPayment_DuplicateIsIdempotent(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()
	req := f.confirmation(result.GatewayOrder.ID, "pay_1")

	_, err := f.svc.ConfirmPayment(ctx, req)
	require.NoError(t, err)

	again, err := f.svc.ConfirmPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, "pay_1", again.Payment.TransactionID)

	order, err := f.orders.GetByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Len(t, order.StatusHistory, 2)
	assert.Equal(t, 3, f.catalog.stock("p1"))
	assert.Equal(t, 1, f.payments.count())
	assert.Len(t, f.events.ofType(models.EventConfirmed), 1)
}

func TestConfirmPayment_OtherPaymentAfterConfirm(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmPayment(ctx, f.confirmation(result.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, f.confirmation(result.GatewayOrder.ID, "pay_2"))
	assert.ErrorIs(t, err, ErrOrderNotPending)
	assert.Equal(t, 1, f.payments.count())
	assert.Equal(t, 3, f.catalog.stock("p1"))
}

func TestConfirmPayment_TamperedSignatureChangesNothing(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()

	req := f.confirmation(result.GatewayOrder.ID, "pay_1")
	req.Signature = gateway.Sign("wrong-secret", result.GatewayOrder.ID, "pay_1")

	_, err := f.svc.ConfirmPayment(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	order, err := f.orders.GetByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Len(t, order.StatusHistory, 1)
	assert.Equal(t, 5, f.catalog.stock("p1"))
	assert.Zero(t, f.payments.count())

	cart, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestConfirmPayment_MissingFields(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})

	_, err := f.svc.ConfirmPayment(context.Background(), PaymentConfirmation{GatewayOrderID: "order_x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfirmPayment_UnknownOrder(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})

	_, err := f.svc.ConfirmPayment(context.Background(), f.confirmation("order_unknown", "pay_1"))
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Zero(t, f.payments.count())
}

func TestConfirmPayment_OtherUser(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)

	req := f.confirmation(result.GatewayOrder.ID, "pay_1")
	req.UserID = "u2"

	_, err := f.svc.ConfirmPayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrForbidden)

	order, err := f.orders.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
}

func TestConfirmPayment_RecordsStockShortfall(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()

	// someone else bought the stock between checkout and payment
	require.NoError(t, f.catalog.DecrementStock(ctx, "p1", 4))

	confirmed, err := f.svc.ConfirmPayment(ctx, f.confirmation(result.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)
	require.Len(t, confirmed.Shortfalls, 1)
	assert.Equal(t, "p1", confirmed.Shortfalls[0].ProductID)
	assert.Equal(t, 2, confirmed.Shortfalls[0].Quantity)
	assert.Equal(t, "insufficient stock", confirmed.Shortfalls[0].Reason)

	order, err := f.orders.GetByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.Len(t, order.StockShortfalls, 1)
	assert.Equal(t, 1, f.catalog.stock("p1"))
	assert.Equal(t, 1, f.payments.count())

	shortfallEvents := f.events.ofType(models.EventStockShortfall)
	require.Len(t, shortfallEvents, 1)
	assert.Equal(t, uint8(9), shortfallEvents[0].priority)
}

func TestConfirmPayment_PublishFailureDoesNotFail(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	f.events.err = errBoom

	confirmed, err := f.svc.ConfirmPayment(context.Background(), f.confirmation(result.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Order.Status)
}

func TestConfirmPayment_DuplicateKeepsNewCart(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()
	req := f.confirmation(result.GatewayOrder.ID, "pay_1")

	_, err := f.svc.ConfirmPayment(ctx, req)
	require.NoError(t, err)

	_, err = f.carts.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	again, err := f.svc.ConfirmPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)

	cart, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)
}

func TestConfirmPayment_ReplayCompletesInterruptedConfirmation(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	result := f.checkout(t)
	ctx := context.Background()

	// the first delivery marked the order paid and stopped there
	_, err := f.orders.MarkPaid(ctx, result.Order.ID, "pay_1", time.Now().UTC())
	require.NoError(t, err)

	again, err := f.svc.ConfirmPayment(ctx, f.confirmation(result.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, "pay_1", again.Payment.TransactionID)
	assert.Equal(t, 1, f.payments.count())

	cart, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

// staleCache always answers with the cart it was built with.
type staleCache struct {
	cart models.Cart
}

func (c *staleCache) Get(context.Context, string) (*models.Cart, error) {
	cart := c.cart
	cart.Items = append([]models.CartItem{}, c.cart.Items...)
	return &cart, nil
}

func (c *staleCache) Set(context.Context, string, *models.Cart) error {
	return nil
}

func (c *staleCache) Delete(context.Context, string) error {
	return nil
}

func staleCart() models.Cart {
	cart := models.NewCart("u1")
	p := testProduct()
	cart.Items = append(cart.Items, models.CartItem{
		ProductID:    p.ID,
		UnitPrice:    p.Price,
		UnitDiscount: p.Discount,
		UnitDelivery: p.DeliveryCharge,
		Quantity:     5,
	})
	cart.Recalculate()
	return *cart
}

func TestInitiateCheckout_PricesStoredCartNotCache(t *testing.T) {
	f := newCheckoutFixtureWithCache(t, CheckoutConfig{}, &staleCache{cart: staleCart()})
	result := f.checkout(t)

	assert.Equal(t, 190.0, result.Order.TotalPrice)
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, 2, result.Order.Items[0].Quantity)
}

func TestInitiateCheckout_ClearedCartCannotBeCheckedOutAgain(t *testing.T) {
	f := newCheckoutFixtureWithCache(t, CheckoutConfig{}, &staleCache{cart: staleCart()})
	result := f.checkout(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmPayment(ctx, f.confirmation(result.GatewayOrder.ID, "pay_1"))
	require.NoError(t, err)

	_, err = f.svc.InitiateCheckout(ctx, CheckoutRequest{UserID: "u1", ShippingAddress: testAddress()})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 1, f.orders.count())
}

func TestPlaceCashOrder_CreatesPendingOrder(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{PendingOrderTTL: 15 * time.Minute})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)

	order, err := f.svc.PlaceCashOrder(ctx, CheckoutRequest{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   "CashOnDelivery",
		Amount:          190,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, models.MethodCashOnDelivery, order.PaymentMethod)
	assert.Empty(t, order.GatewayOrderID)
	assert.Equal(t, 190.0, order.TotalPrice)
	assert.Zero(t, f.gateway.calls)
	assert.Zero(t, f.payments.count())
	assert.Equal(t, 3, f.catalog.stock("p1"))

	stored, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.OrderItem{{ProductID: "p1", Quantity: 2}}, stored.Items)

	cart, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	assert.Len(t, f.events.ofType(models.EventCreated), 1)
	assert.Empty(t, f.events.ofType(models.EventPaymentCheck))
}

func TestPlaceCashOrder_DefaultsToCashOnDelivery(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	order, err := f.svc.PlaceCashOrder(ctx, CheckoutRequest{UserID: "u1", ShippingAddress: testAddress()})
	require.NoError(t, err)
	assert.Equal(t, models.MethodCashOnDelivery, order.PaymentMethod)
}

func TestPlaceCashOrder_RecordsStockShortfall(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	require.NoError(t, f.catalog.DecrementStock(ctx, "p1", 4))

	order, err := f.svc.PlaceCashOrder(ctx, CheckoutRequest{UserID: "u1", ShippingAddress: testAddress()})
	require.NoError(t, err)
	require.Len(t, order.StockShortfalls, 1)
	assert.Equal(t, "insufficient stock", order.StockShortfalls[0].Reason)
	assert.Len(t, f.events.ofType(models.EventStockShortfall), 1)
}

func TestPlaceCashOrder_Rejects(t *testing.T) {
	f := newCheckoutFixture(t, CheckoutConfig{})
	ctx := context.Background()

	_, err := f.svc.PlaceCashOrder(ctx, CheckoutRequest{UserID: "u1", ShippingAddress: testAddress()})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	_, err = f.svc.PlaceCashOrder(ctx, CheckoutRequest{UserID: "u1", ShippingAddress: testAddress(), PaymentMethod: "onlinePayment"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.PlaceCashOrder(ctx, CheckoutRequest{UserID: "u1", ShippingAddress: models.ShippingAddress{FullName: "Asha"}})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, f.orders.count())
	assert.Equal(t, 5, f.catalog.stock("p1"))
}
