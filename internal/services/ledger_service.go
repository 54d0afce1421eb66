package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/venturebridge/backend/internal/audit"
	"github.com/venturebridge/backend/internal/models"
)

// LedgerService is the double-entry core. Every balance change goes
// through a posting: a single entry for deposits/withdrawals, or a
// debit/credit pair sharing a reference for transfers and funding.
// Postings run in one SQL transaction with the wallet rows locked, so
// a failed posting leaves both balances and the ledger untouched.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewLogger(),
	}
}

// PairPosting describes one logical transfer between two wallets.
type PairPosting struct {
	SenderWalletID    string
	ReceiverWalletID  string
	SenderID          string
	ReceiverID        string
	Amount            int64 // positive, in cents
	Type              string
	DebitDescription  string
	CreditDescription string
	Reference         string
	DealID            string
}

const ledgerColumns = `id, transaction_id, wallet_id, type, amount, currency,
	       COALESCE(sender_id, ''), COALESCE(receiver_id, ''), description, status,
	       COALESCE(deal_id, ''), COALESCE(payment_method, ''), COALESCE(reference, ''),
	       created_at, updated_at`

// PostSingle records a deposit or withdrawal. Amount is signed:
// positive credits the wallet, negative debits it. A reference that
// already names a completed entry returns that entry unchanged; the
// check is repeated inside the transaction once the wallet row is
// locked, so concurrent submissions of the same reference post once.
func (s *LedgerService) PostSingle(walletID, txType string, amount int64, description string, meta models.Metadata) (*models.Transaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	if meta.Reference != "" {
		if existing, err := s.GetByReference(meta.Reference); err == nil && len(existing) > 0 {
			return &existing[0], nil
		}
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	txn, err := s.PostSingleTx(dbTx, walletID, txType, amount, description, meta)
	if err != nil {
		s.audit.LogError("", walletID, err)
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogPosting(txn.TransactionID, walletID, txType, amount, "SUCCESS")
	return txn, nil
}

// PostSingleTx is the composable variant used when the caller owns the
// SQL transaction.
func (s *LedgerService) PostSingleTx(dbTx *sql.Tx, walletID, txType string, amount int64, description string, meta models.Metadata) (*models.Transaction, error) {
	wallet, err := s.lockWallet(dbTx, walletID)
	if err != nil {
		return nil, err
	}

	// Re-check the reference now that the wallet row is locked. A
	// concurrent posting with the same reference holds this lock until
	// it commits, so the read below sees its entry.
	if meta.Reference != "" {
		existing, err := s.findByReferenceTx(dbTx, meta.Reference)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return &existing[0], nil
		}
	}

	if amount < 0 && wallet.Balance+amount < 0 {
		return nil, ErrInsufficientFunds
	}

	if meta.Reference == "" {
		meta.Reference = uuid.New().String()
	}

	now := time.Now().UTC()
	txn := &models.Transaction{
		TransactionID: uuid.New().String(),
		WalletID:      wallet.ID,
		Type:          txType,
		Amount:        amount,
		Currency:      wallet.Currency,
		Description:   description,
		Status:        models.StatusCompleted,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.insertEntry(dbTx, txn); err != nil {
		return nil, err
	}

	if err := s.updateWalletBalance(dbTx, wallet.ID, wallet.Balance+amount, wallet.Version); err != nil {
		return nil, err
	}

	txn.DisplayAmount = models.FormatMinorUnits(txn.Amount)
	return txn, nil
}

// PostPair records one logical transfer as a debit/credit pair sharing
// a reference. All-or-nothing: both entries and both balance updates
// commit together or not at all. A reference that already names a
// recorded pair returns that pair instead of double-posting; the check
// is repeated under the wallet locks so concurrent submissions of the
// same reference post once.
func (s *LedgerService) PostPair(p PairPosting) (*models.Transaction, *models.Transaction, error) {
	if p.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	if p.Reference != "" {
		if existing, err := s.GetByReference(p.Reference); err == nil && len(existing) == 2 {
			return &existing[0], &existing[1], nil
		}
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer dbTx.Rollback()

	debit, credit, err := s.PostPairTx(dbTx, p)
	if err != nil {
		s.audit.LogError("", p.SenderWalletID, err)
		return nil, nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, nil, err
	}

	s.audit.LogTransfer(debit.TransactionID, p.SenderWalletID, p.ReceiverWalletID, p.Amount, "SUCCESS")
	return debit, credit, nil
}

// PostPairTx runs a paired posting inside the caller's SQL transaction.
func (s *LedgerService) PostPairTx(dbTx *sql.Tx, p PairPosting) (*models.Transaction, *models.Transaction, error) {
	if p.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	suppliedReference := p.Reference != ""
	if !suppliedReference {
		p.Reference = uuid.New().String()
	}

	// Lock wallets in consistent order to prevent deadlocks
	firstLock, secondLock := p.SenderWalletID, p.ReceiverWalletID
	if p.SenderWalletID > p.ReceiverWalletID {
		firstLock, secondLock = p.ReceiverWalletID, p.SenderWalletID
	}

	first, err := s.lockWallet(dbTx, firstLock)
	if err != nil {
		return nil, nil, err
	}

	second, err := s.lockWallet(dbTx, secondLock)
	if err != nil {
		return nil, nil, err
	}

	sender, receiver := first, second
	if firstLock != p.SenderWalletID {
		sender, receiver = second, first
	}

	// Re-check the reference under the wallet locks. A concurrent
	// posting with the same reference holds at least one of these
	// locks until it commits, so the read below sees its pair.
	if suppliedReference {
		existing, err := s.findByReferenceTx(dbTx, p.Reference)
		if err != nil {
			return nil, nil, err
		}
		if len(existing) == 2 {
			return &existing[0], &existing[1], nil
		}
	}

	if sender.Currency != receiver.Currency {
		return nil, nil, ErrCurrencyMismatch
	}

	if sender.Balance < p.Amount {
		return nil, nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	meta := models.Metadata{DealID: p.DealID, Reference: p.Reference}

	debit := &models.Transaction{
		TransactionID: uuid.New().String(),
		WalletID:      sender.ID,
		Type:          p.Type,
		Amount:        -p.Amount,
		Currency:      sender.Currency,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		Description:   p.DebitDescription,
		Status:        models.StatusCompleted,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	credit := &models.Transaction{
		TransactionID: uuid.New().String(),
		WalletID:      receiver.ID,
		Type:          p.Type,
		Amount:        p.Amount,
		Currency:      receiver.Currency,
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		Description:   p.CreditDescription,
		Status:        models.StatusCompleted,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.insertEntry(dbTx, debit); err != nil {
		return nil, nil, err
	}

	if err := s.insertEntry(dbTx, credit); err != nil {
		return nil, nil, err
	}

	if err := s.updateWalletBalance(dbTx, sender.ID, sender.Balance-p.Amount, sender.Version); err != nil {
		return nil, nil, err
	}

	if err := s.updateWalletBalance(dbTx, receiver.ID, receiver.Balance+p.Amount, receiver.Version); err != nil {
		return nil, nil, err
	}

	debit.DisplayAmount = models.FormatMinorUnits(debit.Amount)
	credit.DisplayAmount = models.FormatMinorUnits(credit.Amount)
	return debit, credit, nil
}

// GetTransaction fetches a single entry by its transaction ID.
func (s *LedgerService) GetTransaction(transactionID string) (*models.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE transaction_id = $1
	`, transactionID)

	return scanTransaction(row)
}

// ListByWallet returns a wallet's entries, newest first. The serial
// primary key breaks created_at ties by insertion order.
func (s *LedgerService) ListByWallet(walletID string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListByUser returns the entries of the user's wallet, newest first.
func (s *LedgerService) ListByUser(userID string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT `+transactionJoinColumns+`
		FROM transactions t
		INNER JOIN wallets w ON t.wallet_id = w.id
		WHERE w.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetByReference returns the entries recorded under a payment
// reference: one for singles, two (debit first) for pairs.
func (s *LedgerService) GetByReference(reference string) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE reference = $1
		ORDER BY id ASC
	`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// findByReferenceTx is the in-transaction variant of GetByReference.
// Callers run it after taking the FOR UPDATE locks.
func (s *LedgerService) findByReferenceTx(dbTx *sql.Tx, reference string) ([]models.Transaction, error) {
	rows, err := dbTx.Query(`
		SELECT `+ledgerColumns+`
		FROM transactions
		WHERE reference = $1
		ORDER BY id ASC
	`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

const transactionJoinColumns = `t.id, t.transaction_id, t.wallet_id, t.type, t.amount, t.currency,
	       COALESCE(t.sender_id, ''), COALESCE(t.receiver_id, ''), t.description, t.status,
	       COALESCE(t.deal_id, ''), COALESCE(t.payment_method, ''), COALESCE(t.reference, ''),
	       t.created_at, t.updated_at`

func (s *LedgerService) lockWallet(dbTx *sql.Tx, walletID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := dbTx.QueryRow(`
		SELECT id, user_id, balance, currency, version, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE`, walletID).Scan(
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

func (s *LedgerService) insertEntry(dbTx *sql.Tx, txn *models.Transaction) error {
	_, err := dbTx.Exec(`
		INSERT INTO transactions
		(transaction_id, wallet_id, type, amount, currency, sender_id, receiver_id,
		 description, status, deal_id, payment_method, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9,
		        NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13, $14)`,
		txn.TransactionID, txn.WalletID, txn.Type, txn.Amount, txn.Currency,
		txn.SenderID, txn.ReceiverID, txn.Description, txn.Status,
		txn.Metadata.DealID, txn.Metadata.PaymentMethod, txn.Metadata.Reference,
		txn.CreatedAt, txn.UpdatedAt)
	return err
}

func (s *LedgerService) updateWalletBalance(dbTx *sql.Tx, walletID string, newBalance int64, version int) error {
	result, err := dbTx.Exec(`
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now().UTC(), walletID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for wallet %s", walletID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	err := row.Scan(
		&txn.ID, &txn.TransactionID, &txn.WalletID, &txn.Type, &txn.Amount, &txn.Currency,
		&txn.SenderID, &txn.ReceiverID, &txn.Description, &txn.Status,
		&txn.Metadata.DealID, &txn.Metadata.PaymentMethod, &txn.Metadata.Reference,
		&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}

	txn.DisplayAmount = models.FormatMinorUnits(txn.Amount)
	return &txn, nil
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}
