package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Publisher delivers ledger events to an external broker. A nil
// Publisher is allowed; callers skip publishing when unconfigured.
type Publisher interface {
	Publish(topic string, event any) error
}

// TransactionCompleted is emitted after a paired posting commits.
type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	FromWallet    string          `json:"from_wallet"`
	ToWallet      string          `json:"to_wallet"`
	Amount        decimal.Decimal `json:"amount"` // major units
	Currency      string          `json:"currency"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
