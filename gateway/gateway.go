package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrRejected means the provider answered but refused the request.
	ErrRejected = errors.New("payment gateway rejected the request")
	// ErrUnavailable covers transport failures and an open circuit.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Intent is the remote order the browser pays against.
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	KeyID    string `json:"keyId,omitempty"`
}

type IntentRequest struct {
	Amount   float64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Client creates payment intents at the provider.
type Client interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Name() string
}

// ToMinorUnits converts a major-unit amount (rupees) to the provider's minor
// unit (paise), rounding half away from zero.
func ToMinorUnits(amount float64) (int64, error) {
	d := decimal.NewFromFloat(amount)
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
