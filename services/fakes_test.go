package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace-service/gateway"
	"marketplace-service/models"
	"marketplace-service/repository"
)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]*models.Product
	getCalls int
	failWith error
}

func newFakeCatalog(products ...models.Product) *fakeCatalog {
	c := &fakeCatalog{products: map[string]*models.Product{}}
	for i := range products {
		p := products[i]
		c.products[p.ID] = &p
	}
	return c
}

func (c *fakeCatalog) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	if c.failWith != nil {
		return nil, c.failWith
	}
	p, ok := c.products[productID]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *fakeCatalog) DecrementStock(_ context.Context, productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return repository.ErrProductNotFound
	}
	if p.Stock < quantity {
		return repository.ErrStockExhausted
	}
	p.Stock -= quantity
	return nil
}

func (c *fakeCatalog) stock(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[productID].Stock
}

// fakeCartRepo mirrors the versioned save of the Mongo repository.
type fakeCartRepo struct {
	mu    sync.Mutex
	carts map[string]models.Cart
	saves int

	// conflicts makes the next N saves fail as if another writer won.
	conflicts int
}

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{carts: map[string]models.Cart{}}
}

func (r *fakeCartRepo) GetByUser(_ context.Context, userID string) (*models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	c.Items = append([]models.CartItem{}, c.Items...)
	return &c, nil
}

func (r *fakeCartRepo) Save(_ context.Context, cart *models.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart.Recalculate()

	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrVersionConflict
	}

	stored, exists := r.carts[cart.UserID]
	if cart.Version == 0 && exists {
		return repository.ErrVersionConflict
	}
	if cart.Version != 0 && (!exists || stored.Version != cart.Version) {
		return repository.ErrVersionConflict
	}
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	cart.Version++
	r.saves++

	c := *cart
	c.Items = append([]models.CartItem{}, cart.Items...)
	r.carts[cart.UserID] = c
	return nil
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[string]*models.Order{}}
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem{}, o.Items...)
	cp.StatusHistory = append([]models.StatusEntry{}, o.StatusHistory...)
	cp.StockShortfalls = append([]models.StockShortfall(nil), o.StockShortfalls...)
	return &cp
}

func (r *fakeOrderRepo) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, orderID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *fakeOrderRepo) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.GatewayOrderID == gatewayOrderID {
			return copyOrder(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (r *fakeOrderRepo) ListByUser(_ context.Context, userID string) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := []models.Order{}
	for _, o := range r.orders {
		if o.UserID == userID {
			orders = append(orders, *copyOrder(o))
		}
	}
	return orders, nil
}

func (r *fakeOrderRepo) MarkPaid(_ context.Context, orderID, gatewayPaymentID string, at time.Time) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != models.StatusPending {
		return nil, repository.ErrStatusMismatch
	}
	o.MarkPaid(gatewayPaymentID, at)
	return copyOrder(o), nil
}

func (r *fakeOrderRepo) AppendStatus(_ context.Context, orderID string, status models.OrderStatus, at time.Time, from []models.OrderStatus) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if len(from) > 0 {
		allowed := false
		for _, st := range from {
			if o.Status == st {
				allowed = true
			}
		}
		if !allowed {
			return nil, repository.ErrStatusMismatch
		}
	}
	o.ApplyStatus(status, at)
	return copyOrder(o), nil
}

func (r *fakeOrderRepo) AddShortfalls(_ context.Context, orderID string, shortfalls []models.StockShortfall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.StockShortfalls = append(o.StockShortfalls, shortfalls...)
	return nil
}

func (r *fakeOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: map[string]*models.Payment{}}
}

func (r *fakePaymentRepo) Create(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.TransactionID]; ok {
		return repository.ErrDuplicateTransaction
	}
	cp := *payment
	r.payments[payment.TransactionID] = &cp
	return nil
}

func (r *fakePaymentRepo) GetByTransactionID(_ context.Context, transactionID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[transactionID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePaymentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

type fakeGateway struct {
	calls    int
	lastReq  gateway.IntentRequest
	failWith error
}

func (g *fakeGateway) Name() string { return models.GatewayRazorpay }

func (g *fakeGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	g.calls++
	g.lastReq = req
	if g.failWith != nil {
		return nil, g.failWith
	}
	minor, err := gateway.ToMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	return &gateway.Intent{
		ID:       "order_gw" + uuid.NewString()[:8],
		Amount:   minor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

type publishedEvent struct {
	event    models.OrderEvent
	priority uint8
	delay    time.Duration
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, event models.OrderEvent, priority uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: event, priority: priority})
	return p.err
}

func (p *fakePublisher) PublishDelayedEvent(_ context.Context, event models.OrderEvent, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: event, delay: delay})
	return p.err
}

func (p *fakePublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// failingCartRepo returns err from every call.
type failingCartRepo struct{ err error }

func (r failingCartRepo) GetByUser(context.Context, string) (*models.Cart, error) {
	return nil, r.err
}

func (r failingCartRepo) Save(context.Context, *models.Cart) error {
	return r.err
}

var errBoom = errors.New("boom")
