package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/venturebridge/backend/internal/models"
)

// WalletService owns wallet reads and provisioning. Balances are only
// written through ledger postings.
type WalletService struct {
	db *sql.DB
}

func NewWalletService(db *sql.DB) *WalletService {
	return &WalletService{db: db}
}

// GetWalletByUserID returns the user's wallet or ErrWalletNotFound.
func (s *WalletService) GetWalletByUserID(userID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.QueryRow(`
		SELECT id, user_id, balance, currency, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(
		&wallet.ID, &wallet.UserID, &wallet.Balance, &wallet.Currency,
		&wallet.Version, &wallet.CreatedAt, &wallet.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}

	return &wallet, nil
}

// CreateWalletTx provisions a wallet inside the caller's transaction.
// Used at registration; one wallet per user.
func (s *WalletService) CreateWalletTx(dbTx *sql.Tx, userID, currency string) (*models.Wallet, error) {
	now := time.Now().UTC()
	wallet := &models.Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Balance:   0,
		Currency:  currency,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := dbTx.Exec(`
		INSERT INTO wallets (id, user_id, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wallet.ID, wallet.UserID, wallet.Balance, wallet.Currency,
		wallet.Version, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return wallet, nil
}

// GetWallet returns the wallet for a user
// @Summary Get wallet
// @Description Retrieve a user's wallet with its current balance
// @Tags wallets
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} models.Wallet
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{userId} [get]
func (s *WalletService) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	wallet, err := s.GetWalletByUserID(userID)
	if err != nil {
		if err == ErrWalletNotFound {
			SendDomainError(w, err)
			return
		}
		log.Printf("[WALLET] Failed to fetch wallet for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch wallet", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"wallet":         wallet,
		"displayBalance": wallet.DisplayBalance(),
	})
}
