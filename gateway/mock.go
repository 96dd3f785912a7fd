package gateway

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"marketplace-service/models"
)

// MockGateway fabricates intents locally. It is used when no provider
// credentials are configured so the checkout flow can run end to end.
type MockGateway struct{}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) Name() string { return models.GatewayManual }

func (m *MockGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	minor, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	id := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	log.Printf("Mock gateway: created intent %s for %d %s", id, minor, req.Currency)
	return &Intent{
		ID:       id,
		Amount:   minor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}
