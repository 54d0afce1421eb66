package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/venturebridge/backend/internal/audit"
	"github.com/venturebridge/backend/internal/events"
	"github.com/venturebridge/backend/internal/models"
)

// TransactionService exposes the ledger over HTTP: deposits,
// withdrawals, transfers and transaction history.
type TransactionService struct {
	db        *sql.DB
	redis     *redis.Client
	wallets   *WalletService
	ledger    *LedgerService
	banks     *BankService
	publisher events.Publisher
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client, wallets *WalletService, ledger *LedgerService, publisher events.Publisher) *TransactionService {
	return &TransactionService{
		db:        db,
		redis:     redisClient,
		wallets:   wallets,
		ledger:    ledger,
		banks:     NewBankService(),
		publisher: publisher,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type DepositRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"` // in cents
	Description   string `json:"description" validate:"max=200"`
	PaymentMethod string `json:"paymentMethod" validate:"omitempty,oneof=bank_transfer card"`
	Reference     string `json:"reference" validate:"omitempty,max=64"`
}

type WithdrawRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"` // in cents
	Description   string `json:"description" validate:"max=200"`
	BankCode      string `json:"bankCode" validate:"omitempty,max=6"`
	AccountNumber string `json:"accountNumber" validate:"omitempty,max=20"`
	Reference     string `json:"reference" validate:"omitempty,max=64"`
}

type TransferRequest struct {
	FromUserID  string `json:"fromUserId" validate:"required"`
	ToUserID    string `json:"toUserId" validate:"required,nefield=FromUserID"`
	Amount      int64  `json:"amount" validate:"required,gt=0"` // in cents
	Description string `json:"description" validate:"max=200"`
	Reference   string `json:"reference" validate:"omitempty,max=64"`
}

// Deposit credits a wallet
// @Summary Deposit funds
// @Description Credit a user's wallet and record the deposit entry
// @Tags transactions
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param request body DepositRequest true "Deposit details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{userId}/deposit [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req DepositRequest
	if !ts.decodeRequest(w, r, &req) {
		return
	}

	wallet, err := ts.wallets.GetWalletByUserID(userID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	description := req.Description
	if description == "" {
		description = "Wallet deposit"
	}

	txn, err := ts.ledger.PostSingle(wallet.ID, models.TypeDeposit, req.Amount, description, models.Metadata{
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
	})
	if err != nil {
		log.Printf("[TRANSACTION] Deposit failed for wallet %s: %v", wallet.ID, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[TRANSACTION] Deposit %s: wallet %s credited %d", txn.TransactionID, wallet.ID, req.Amount)
	go ts.notifyTransaction(txn)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": txn,
	})
}

// Withdraw debits a wallet
// @Summary Withdraw funds
// @Description Debit a user's wallet and queue the withdrawal for bank settlement
// @Tags transactions
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param request body WithdrawRequest true "Withdrawal details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Insufficient funds"
// @Router /wallets/{userId}/withdraw [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req WithdrawRequest
	if !ts.decodeRequest(w, r, &req) {
		return
	}

	if req.BankCode != "" && !ts.banks.IsSupported(req.BankCode) {
		SendErrorResponse(w, "Unsupported bank code", http.StatusBadRequest, nil)
		return
	}

	wallet, err := ts.wallets.GetWalletByUserID(userID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	description := req.Description
	if description == "" {
		description = "Withdrawal to bank account"
	}

	txn, err := ts.ledger.PostSingle(wallet.ID, models.TypeWithdraw, -req.Amount, description, models.Metadata{
		PaymentMethod: "bank_transfer",
		Reference:     req.Reference,
	})
	if err != nil {
		log.Printf("[TRANSACTION] Withdrawal failed for wallet %s: %v", wallet.ID, err)
		SendDomainError(w, err)
		return
	}

	// Settlement runs after commit; a queue failure never unwinds the posting.
	if err := ts.queueForSettlement(txn, req.BankCode, req.AccountNumber); err != nil {
		log.Printf("[TRANSACTION] Failed to queue withdrawal %s for settlement: %v", txn.TransactionID, err)
	}

	log.Printf("[TRANSACTION] Withdrawal %s: wallet %s debited %d", txn.TransactionID, wallet.ID, req.Amount)
	go ts.notifyTransaction(txn)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": txn,
	})
}

// Transfer moves funds between two users
// @Summary Transfer funds
// @Description Move funds between two users' wallets as a paired debit/credit posting
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer details"
// @Success 201 {object} object{transactions=[]models.Transaction}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Insufficient funds or currency mismatch"
// @Router /transfers [post]
func (ts *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !ts.decodeRequest(w, r, &req) {
		return
	}

	// Idempotency: a reference that already names a pair returns it as-is.
	if req.Reference != "" {
		if existing, err := ts.ledger.GetByReference(req.Reference); err == nil && len(existing) == 2 {
			log.Printf("[TRANSFER] Duplicate reference %s, returning recorded pair", req.Reference)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"success":      true,
				"transactions": existing,
				"message":      "Transfer already processed",
			})
			return
		}
	}

	fromWallet, err := ts.wallets.GetWalletByUserID(req.FromUserID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	toWallet, err := ts.wallets.GetWalletByUserID(req.ToUserID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	debitDesc := req.Description
	creditDesc := req.Description
	if req.Description == "" {
		debitDesc = "Transfer to " + req.ToUserID
		creditDesc = "Transfer received from " + req.FromUserID
	}

	debit, credit, err := ts.ledger.PostPair(PairPosting{
		SenderWalletID:    fromWallet.ID,
		ReceiverWalletID:  toWallet.ID,
		SenderID:          req.FromUserID,
		ReceiverID:        req.ToUserID,
		Amount:            req.Amount,
		Type:              models.TypeTransfer,
		DebitDescription:  debitDesc,
		CreditDescription: creditDesc,
		Reference:         req.Reference,
	})
	if err != nil {
		log.Printf("[TRANSFER] Failed: %s -> %s, amount %d: %v", req.FromUserID, req.ToUserID, req.Amount, err)
		SendDomainError(w, err)
		return
	}

	ts.publishCompleted(debit, credit)

	log.Printf("[TRANSFER] Completed %s: %s -> %s, amount %d", debit.Metadata.Reference, req.FromUserID, req.ToUserID, req.Amount)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"transactions": []models.Transaction{*debit, *credit},
	})
}

// ListTransactions returns a user's transaction history
// @Summary List transactions
// @Description Get the user's wallet transactions, newest first
// @Tags transactions
// @Produce json
// @Param userId path string true "User ID"
// @Param limit query int false "Number of transactions to return (default: 50, max: 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{userId}/transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	wallet, err := ts.wallets.GetWalletByUserID(userID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	transactions, err := ts.ledger.ListByWallet(wallet.ID, limit)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions for wallet %s: %v", wallet.ID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction retrieves a specific transaction
// @Summary Get transaction by ID
// @Description Retrieve a single ledger entry by its transaction ID
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	txn, err := ts.ledger.GetTransaction(txID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Failed to fetch transaction %s: %v", txID, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// GetRecentTransactions returns the authenticated user's latest entries
// @Summary Recent transactions
// @Description Get the most recent ledger entries for the authenticated user
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of transactions to return (default: 10, max: 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /transactions/recent [get]
func (ts *TransactionService) GetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	transactions, err := ts.ledger.ListByUser(userID, limit)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list recent transactions for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// decodeRequest applies the shared body limits and validation. Returns
// false when a response has already been written.
func (ts *TransactionService) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := ts.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}

	return true
}

func (ts *TransactionService) queueForSettlement(txn *models.Transaction, bankCode, accountNumber string) error {
	if ts.redis == nil {
		return nil
	}

	instruction := SettlementInstruction{
		Transaction:   *txn,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
	}

	data, err := json.Marshal(instruction)
	if err != nil {
		return err
	}

	return ts.redis.RPush(context.Background(), settlementQueueKey, data).Err()
}

func (ts *TransactionService) publishCompleted(debit, credit *models.Transaction) {
	if ts.publisher == nil {
		return
	}

	event := events.TransactionCompleted{
		TransactionID: debit.TransactionID,
		Reference:     debit.Metadata.Reference,
		FromWallet:    debit.WalletID,
		ToWallet:      credit.WalletID,
		Amount:        decimal.NewFromInt(credit.Amount).Div(decimal.NewFromInt(100)),
		Currency:      debit.Currency,
		Type:          debit.Type,
		OccurredAt:    time.Now().UTC(),
	}
	if err := ts.publisher.Publish("transaction_completed", event); err != nil {
		log.Printf("[TRANSFER] Failed to publish completion event for %s: %v", debit.TransactionID, err)
	}
}

func (ts *TransactionService) notifyTransaction(txn *models.Transaction) {
	log.Printf("Notification: Transaction %s completed for wallet %s", txn.TransactionID, txn.WalletID)
}
