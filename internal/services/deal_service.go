package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/venturebridge/backend/internal/audit"
	"github.com/venturebridge/backend/internal/events"
	"github.com/venturebridge/backend/internal/models"
)

// DealService tracks investor->entrepreneur funding deals. Status
// moves pending -> approved -> completed, or is cancelled before
// completion. Completing a deal posts exactly one funding pair between
// the parties' wallets, atomically with the status flip; a completed
// deal is terminal and its amount/equity are frozen.
type DealService struct {
	db        *sql.DB
	ledger    *LedgerService
	publisher events.Publisher
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewDealService(db *sql.DB, ledger *LedgerService, publisher events.Publisher) *DealService {
	return &DealService{
		db:        db,
		ledger:    ledger,
		publisher: publisher,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

var dealTransitions = map[string][]string{
	models.DealStatusPending:  {models.DealStatusApproved, models.DealStatusCancelled},
	models.DealStatusApproved: {models.DealStatusCompleted, models.DealStatusCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, next := range dealTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type CreateDealRequest struct {
	InvestorID     string          `json:"investorId" validate:"required"`
	EntrepreneurID string          `json:"entrepreneurId" validate:"required,nefield=InvestorID"`
	Amount         int64           `json:"amount" validate:"required,gt=0"` // in cents
	Equity         decimal.Decimal `json:"equity"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
	Description    string          `json:"description" validate:"max=200"`
}

// CreateDeal creates a funding deal
// @Summary Create funding deal
// @Description Create a pending funding deal between an investor and an entrepreneur
// @Tags deals
// @Accept json
// @Produce json
// @Param request body CreateDealRequest true "Deal details"
// @Success 201 {object} models.FundingDeal
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /deals [post]
func (s *DealService) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	deal, err := s.createDeal(&req)
	if err != nil {
		log.Printf("[DEAL] Creation failed for investor %s: %v", req.InvestorID, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[DEAL] Created deal %s: %s -> %s, amount %d", deal.ID, deal.InvestorID, deal.EntrepreneurID, deal.Amount)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(deal)
}

func (s *DealService) createDeal(req *CreateDealRequest) (*models.FundingDeal, error) {
	if req.Equity.Cmp(decimal.Zero) <= 0 || req.Equity.Cmp(decimal.NewFromInt(100)) > 0 {
		return nil, ErrInvalidEquity
	}

	currency := req.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	// Both parties must already have wallets, and the deal settles in
	// those wallets, so its currency must match both. Checking here
	// keeps a mismatched deal from failing only at completion.
	investorCurrency, err := s.walletCurrency(req.InvestorID)
	if err != nil {
		return nil, err
	}
	entrepreneurCurrency, err := s.walletCurrency(req.EntrepreneurID)
	if err != nil {
		return nil, err
	}
	if investorCurrency != currency || entrepreneurCurrency != currency {
		return nil, ErrCurrencyMismatch
	}

	now := time.Now().UTC()
	deal := &models.FundingDeal{
		ID:             uuid.New().String(),
		InvestorID:     req.InvestorID,
		EntrepreneurID: req.EntrepreneurID,
		Amount:         req.Amount,
		Currency:       currency,
		Equity:         req.Equity,
		Status:         models.DealStatusPending,
		Description:    req.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = s.db.Exec(`
		INSERT INTO funding_deals
		(id, investor_id, entrepreneur_id, amount, currency, equity, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		deal.ID, deal.InvestorID, deal.EntrepreneurID, deal.Amount, deal.Currency,
		deal.Equity, deal.Status, deal.Description, deal.CreatedAt, deal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return deal, nil
}

// GetDeal returns a funding deal
// @Summary Get funding deal
// @Description Retrieve a funding deal by ID
// @Tags deals
// @Produce json
// @Param dealId path string true "Deal ID"
// @Success 200 {object} models.FundingDeal
// @Failure 404 {object} ErrorResponse
// @Router /deals/{dealId} [get]
func (s *DealService) GetDeal(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealId")

	deal, err := s.fetchDeal(dealID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deal)
}

// ListDeals lists deals for a participant
// @Summary List funding deals
// @Description List funding deals where the user is investor or entrepreneur
// @Tags deals
// @Produce json
// @Param userId query string true "User ID"
// @Success 200 {object} object{deals=[]models.FundingDeal,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /deals [get]
func (s *DealService) ListDeals(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		SendErrorResponse(w, "userId is required", http.StatusBadRequest, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, investor_id, entrepreneur_id, amount, currency, equity, status, description, created_at, updated_at
		FROM funding_deals
		WHERE investor_id = $1 OR entrepreneur_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		log.Printf("[DEAL] Failed to list deals for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch deals", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	deals := []models.FundingDeal{}
	for rows.Next() {
		var deal models.FundingDeal
		if err := rows.Scan(
			&deal.ID, &deal.InvestorID, &deal.EntrepreneurID, &deal.Amount, &deal.Currency,
			&deal.Equity, &deal.Status, &deal.Description, &deal.CreatedAt, &deal.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch deals", http.StatusInternalServerError, nil)
			return
		}
		deals = append(deals, deal)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"deals": deals,
		"count": len(deals),
	})
}

// ApproveDeal approves a pending deal
// @Summary Approve funding deal
// @Description Move a pending deal to approved
// @Tags deals
// @Produce json
// @Param dealId path string true "Deal ID"
// @Success 200 {object} models.FundingDeal
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /deals/{dealId}/approve [post]
func (s *DealService) ApproveDeal(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, models.DealStatusApproved)
}

// CompleteDeal completes an approved deal and posts the funding pair
// @Summary Complete funding deal
// @Description Complete an approved deal, moving the deal amount from investor to entrepreneur
// @Tags deals
// @Produce json
// @Param dealId path string true "Deal ID"
// @Success 200 {object} models.FundingDeal
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /deals/{dealId}/complete [post]
func (s *DealService) CompleteDeal(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, models.DealStatusCompleted)
}

// CancelDeal cancels a pending or approved deal
// @Summary Cancel funding deal
// @Description Cancel a deal that has not completed
// @Tags deals
// @Produce json
// @Param dealId path string true "Deal ID"
// @Success 200 {object} models.FundingDeal
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /deals/{dealId}/cancel [post]
func (s *DealService) CancelDeal(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, models.DealStatusCancelled)
}

func (s *DealService) transitionHandler(w http.ResponseWriter, r *http.Request, newStatus string) {
	dealID := chi.URLParam(r, "dealId")

	deal, err := s.Transition(dealID, newStatus)
	if err != nil {
		log.Printf("[DEAL] Transition to %s failed for deal %s: %v", newStatus, dealID, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[DEAL] Deal %s transitioned to %s", dealID, newStatus)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deal)
}

// Transition moves a deal to newStatus, enforcing the status machine.
// Completion posts the funding pair in the same SQL transaction as the
// status update, so a failed posting (insufficient funds, missing
// wallet) leaves the deal un-completed. Re-completing a completed deal
// fails with ErrInvalidTransition; completed is terminal.
func (s *DealService) Transition(dealID, newStatus string) (*models.FundingDeal, error) {
	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	deal, err := s.lockDeal(dbTx, dealID)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(deal.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, deal.Status, newStatus)
	}

	var debit *models.Transaction
	if newStatus == models.DealStatusCompleted {
		debit, _, err = s.postFundingTx(dbTx, deal)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if _, err := dbTx.Exec(`
		UPDATE funding_deals SET status = $1, updated_at = $2 WHERE id = $3`,
		newStatus, now, dealID); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	deal.Status = newStatus
	deal.UpdatedAt = now

	if newStatus == models.DealStatusCompleted {
		s.audit.LogTransfer(debit.TransactionID, deal.InvestorID, deal.EntrepreneurID, deal.Amount, "SUCCESS")
		s.publishCompleted(deal, debit)
	}

	return deal, nil
}

func (s *DealService) postFundingTx(dbTx *sql.Tx, deal *models.FundingDeal) (*models.Transaction, *models.Transaction, error) {
	investorWallet, err := s.walletIDTx(dbTx, deal.InvestorID)
	if err != nil {
		return nil, nil, err
	}

	entrepreneurWallet, err := s.walletIDTx(dbTx, deal.EntrepreneurID)
	if err != nil {
		return nil, nil, err
	}

	return s.ledger.PostPairTx(dbTx, PairPosting{
		SenderWalletID:    investorWallet,
		ReceiverWalletID:  entrepreneurWallet,
		SenderID:          deal.InvestorID,
		ReceiverID:        deal.EntrepreneurID,
		Amount:            deal.Amount,
		Type:              models.TypeFunding,
		DebitDescription:  fmt.Sprintf("Funding: %s", deal.Description),
		CreditDescription: fmt.Sprintf("Funding received: %s", deal.Description),
		Reference:         fmt.Sprintf("FUND-%s", uuid.New().String()),
		DealID:            deal.ID,
	})
}

func (s *DealService) publishCompleted(deal *models.FundingDeal, debit *models.Transaction) {
	if s.publisher == nil {
		return
	}

	event := events.TransactionCompleted{
		TransactionID: debit.TransactionID,
		Reference:     debit.Metadata.Reference,
		FromWallet:    debit.WalletID,
		ToWallet:      debit.ReceiverID,
		Amount:        decimal.NewFromInt(deal.Amount).Div(decimal.NewFromInt(100)),
		Currency:      deal.Currency,
		Type:          models.TypeFunding,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish("deal_completed", event); err != nil {
		log.Printf("[DEAL] Failed to publish completion event for deal %s: %v", deal.ID, err)
	}
}

func (s *DealService) lockDeal(dbTx *sql.Tx, dealID string) (*models.FundingDeal, error) {
	var deal models.FundingDeal
	err := dbTx.QueryRow(`
		SELECT id, investor_id, entrepreneur_id, amount, currency, equity, status, description, created_at, updated_at
		FROM funding_deals
		WHERE id = $1
		FOR UPDATE`, dealID).Scan(
		&deal.ID, &deal.InvestorID, &deal.EntrepreneurID, &deal.Amount, &deal.Currency,
		&deal.Equity, &deal.Status, &deal.Description, &deal.CreatedAt, &deal.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	return &deal, nil
}

func (s *DealService) fetchDeal(dealID string) (*models.FundingDeal, error) {
	var deal models.FundingDeal
	err := s.db.QueryRow(`
		SELECT id, investor_id, entrepreneur_id, amount, currency, equity, status, description, created_at, updated_at
		FROM funding_deals
		WHERE id = $1`, dealID).Scan(
		&deal.ID, &deal.InvestorID, &deal.EntrepreneurID, &deal.Amount, &deal.Currency,
		&deal.Equity, &deal.Status, &deal.Description, &deal.CreatedAt, &deal.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	return &deal, nil
}

func (s *DealService) walletIDTx(dbTx *sql.Tx, userID string) (string, error) {
	var walletID string
	err := dbTx.QueryRow(`SELECT id FROM wallets WHERE user_id = $1`, userID).Scan(&walletID)
	if err == sql.ErrNoRows {
		return "", ErrWalletNotFound
	}
	if err != nil {
		return "", err
	}
	return walletID, nil
}

func (s *DealService) walletCurrency(userID string) (string, error) {
	var currency string
	err := s.db.QueryRow(`SELECT currency FROM wallets WHERE user_id = $1`, userID).Scan(&currency)
	if err == sql.ErrNoRows {
		return "", ErrWalletNotFound
	}
	if err != nil {
		return "", err
	}
	return currency, nil
}
