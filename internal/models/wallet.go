package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TypeDeposit  = "deposit"
	TypeWithdraw = "withdraw"
	TypeTransfer = "transfer"
	TypeFunding  = "funding"
	TypePayment  = "payment"
)

// DefaultCurrency is applied when a request leaves currency blank.
const DefaultCurrency = "USD"

// Transaction statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Wallet holds one balance record per user. Balance is in minor
// currency units (cents) and is only mutated through ledger postings.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"` // in cents
	Currency  string    `json:"currency" db:"currency"`
	Version   int       `json:"-" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DisplayBalance returns the balance in major units, e.g. 150000 -> "1500.00".
func (w *Wallet) DisplayBalance() string {
	return FormatMinorUnits(w.Balance)
}

// Metadata carries optional transaction context. Paired entries share
// a Reference; funding entries carry the DealID they settle.
type Metadata struct {
	DealID        string `json:"dealId,omitempty" db:"deal_id"`
	PaymentMethod string `json:"paymentMethod,omitempty" db:"payment_method"`
	Reference     string `json:"reference,omitempty" db:"reference"`
}

// Transaction is a single ledger entry. A transfer or funding event is
// recorded as two entries sharing a reference: a negative amount on the
// sender's wallet and a positive amount on the receiver's.
type Transaction struct {
	ID            int       `json:"-" db:"id"`
	TransactionID string    `json:"id" db:"transaction_id"`
	WalletID      string    `json:"walletId" db:"wallet_id"`
	Type          string    `json:"type" db:"type"`
	Amount        int64     `json:"amount" db:"amount"` // signed, in cents
	Currency      string    `json:"currency" db:"currency"`
	SenderID      string    `json:"senderId,omitempty" db:"sender_id"`
	ReceiverID    string    `json:"receiverId,omitempty" db:"receiver_id"`
	Description   string    `json:"description" db:"description"`
	Status        string    `json:"status" db:"status"`
	Metadata      Metadata  `json:"metadata"`
	DisplayAmount string    `json:"displayAmount,omitempty"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// FundingDeal statuses
const (
	DealStatusPending   = "pending"
	DealStatusApproved  = "approved"
	DealStatusCompleted = "completed"
	DealStatusCancelled = "cancelled"
)

// FundingDeal records an investor->entrepreneur equity deal. Completing
// a deal posts a paired funding transfer for Amount between the two
// parties' wallets; amount and equity are frozen once completed.
type FundingDeal struct {
	ID             string          `json:"id" db:"id"`
	InvestorID     string          `json:"investorId" db:"investor_id"`
	EntrepreneurID string          `json:"entrepreneurId" db:"entrepreneur_id"`
	Amount         int64           `json:"amount" db:"amount"` // in cents, positive
	Currency       string          `json:"currency" db:"currency"`
	Equity         decimal.Decimal `json:"equity" db:"equity"` // percentage in (0,100]
	Status         string          `json:"status" db:"status"`
	Description    string          `json:"description" db:"description"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// FormatMinorUnits renders a minor-unit amount as a fixed two-decimal
// major-unit string. Balance arithmetic never touches this path.
func FormatMinorUnits(amount int64) string {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).StringFixed(2)
}
