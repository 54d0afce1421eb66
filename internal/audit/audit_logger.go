package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	WalletID      string    `json:"wallet_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogPosting(transactionID, walletID, txType string, amount int64, status string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "POSTING",
		TransactionID: transactionID,
		WalletID:      walletID,
		Amount:        amount,
		Status:        status,
		Details:       map[string]string{"type": txType},
	}
	a.log(event)
}

func (a *Logger) LogTransfer(transactionID, fromWallet, toWallet string, amount int64, status string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSFER",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        status,
		Details: map[string]string{
			"from_wallet": fromWallet,
			"to_wallet":   toWallet,
		},
	}
	a.log(event)
}

func (a *Logger) LogError(transactionID, walletID string, err error) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		WalletID:      walletID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
