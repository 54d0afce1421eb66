package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/venturebridge/backend/internal/models"
)

const (
	dealSelectForUpdate  = `SELECT id, investor_id, entrepreneur_id, amount, currency, equity, status, description, created_at, updated_at\s+FROM funding_deals\s+WHERE id = \$1\s+FOR UPDATE`
	walletIDSelect       = `SELECT id FROM wallets WHERE user_id = \$1`
	walletCurrencySelect = `SELECT currency FROM wallets WHERE user_id = \$1`
	dealStatusUpdate     = `UPDATE funding_deals SET status`
)

func dealRow(id, investorID, entrepreneurID string, amount int64, equity, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "investor_id", "entrepreneur_id", "amount", "currency", "equity", "status", "description", "created_at", "updated_at",
	}).AddRow(id, investorID, entrepreneurID, amount, "USD", equity, status, "Seed round", now, now)
}

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.DealStatusPending, models.DealStatusApproved, true},
		{models.DealStatusPending, models.DealStatusCancelled, true},
		{models.DealStatusPending, models.DealStatusCompleted, false},
		{models.DealStatusApproved, models.DealStatusCompleted, true},
		{models.DealStatusApproved, models.DealStatusCancelled, true},
		{models.DealStatusApproved, models.DealStatusPending, false},
		{models.DealStatusCompleted, models.DealStatusCompleted, false},
		{models.DealStatusCompleted, models.DealStatusCancelled, false},
		{models.DealStatusCancelled, models.DealStatusApproved, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, transitionAllowed(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestDealService_CreateDeal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDealService(db, NewLedgerService(db), nil)

	t.Run("creates a pending deal", func(t *testing.T) {
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("investor-1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("USD"))
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("founder-1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("USD"))
		mock.ExpectExec(`INSERT INTO funding_deals`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(map[string]any{
			"investorId":     "investor-1",
			"entrepreneurId": "founder-1",
			"amount":         150000,
			"equity":         "15",
			"description":    "Seed round",
		})
		r := httptest.NewRequest("POST", "/deals", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateDeal(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var deal models.FundingDeal
		json.Unmarshal(w.Body.Bytes(), &deal)
		assert.Equal(t, models.DealStatusPending, deal.Status)
		assert.Equal(t, int64(150000), deal.Amount)
		assert.Equal(t, "USD", deal.Currency)
		assert.Equal(t, "15", deal.Equity.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects equity outside (0,100]", func(t *testing.T) {
		for _, equity := range []string{"0", "-5", "150"} {
			body, _ := json.Marshal(map[string]any{
				"investorId":     "investor-1",
				"entrepreneurId": "founder-1",
				"amount":         150000,
				"equity":         equity,
			})
			r := httptest.NewRequest("POST", "/deals", bytes.NewBuffer(body))
			w := httptest.NewRecorder()

			service.CreateDeal(w, r)

			assert.Equal(t, http.StatusBadRequest, w.Code, "equity %s", equity)
		}
	})

	t.Run("rejects self-dealing", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"investorId":     "investor-1",
			"entrepreneurId": "investor-1",
			"amount":         150000,
			"equity":         "10",
		})
		r := httptest.NewRequest("POST", "/deals", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateDeal(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a deal denominated off the wallet currency", func(t *testing.T) {
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("investor-1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("USD"))
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("founder-1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("USD"))

		body, _ := json.Marshal(map[string]any{
			"investorId":     "investor-1",
			"entrepreneurId": "founder-1",
			"amount":         150000,
			"equity":         "15",
			"currency":       "EUR",
		})
		r := httptest.NewRequest("POST", "/deals", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateDeal(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects parties whose wallets disagree on currency", func(t *testing.T) {
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("investor-1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("USD"))
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("founder-1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("EUR"))

		body, _ := json.Marshal(map[string]any{
			"investorId":     "investor-1",
			"entrepreneurId": "founder-1",
			"amount":         150000,
			"equity":         "15",
		})
		r := httptest.NewRequest("POST", "/deals", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateDeal(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects participant without a wallet", func(t *testing.T) {
		mock.ExpectQuery(walletCurrencySelect).
			WithArgs("investor-1").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(map[string]any{
			"investorId":     "investor-1",
			"entrepreneurId": "founder-1",
			"amount":         150000,
			"equity":         "15",
		})
		r := httptest.NewRequest("POST", "/deals", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateDeal(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDealService_Transition(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("approve a pending deal", func(t *testing.T) {
		service := NewDealService(db, NewLedgerService(db), nil)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery(dealSelectForUpdate).
			WithArgs("deal-1").
			WillReturnRows(dealRow("deal-1", "investor-1", "founder-1", 150000, "15", models.DealStatusPending))
		dbMock.ExpectExec(dealStatusUpdate).
			WithArgs(models.DealStatusApproved, sqlmock.AnyArg(), "deal-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		deal, err := service.Transition("deal-1", models.DealStatusApproved)
		assert.NoError(t, err)
		assert.Equal(t, models.DealStatusApproved, deal.Status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("completion posts the funding pair in the same transaction", func(t *testing.T) {
		publisher := &MockPublisher{}
		publisher.On("Publish", "deal_completed", mock.Anything).Return(nil)
		service := NewDealService(db, NewLedgerService(db), publisher)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery(dealSelectForUpdate).
			WithArgs("deal-1").
			WillReturnRows(dealRow("deal-1", "investor-1", "founder-1", 150000, "15", models.DealStatusApproved))
		dbMock.ExpectQuery(walletIDSelect).
			WithArgs("investor-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wallet-inv"))
		dbMock.ExpectQuery(walletIDSelect).
			WithArgs("founder-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wallet-fnd"))
		// wallet-fnd < wallet-inv: receiver locks first
		dbMock.ExpectQuery(walletSelectForUpdate).
			WithArgs("wallet-fnd").
			WillReturnRows(walletRow("wallet-fnd", "founder-1", 0, "USD", 1))
		dbMock.ExpectQuery(walletSelectForUpdate).
			WithArgs("wallet-inv").
			WillReturnRows(walletRow("wallet-inv", "investor-1", 500000, "USD", 1))
		dbMock.ExpectQuery(referenceSelect).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(entryRows())
		dbMock.ExpectExec(entryInsert).
			WithArgs(sqlmock.AnyArg(), "wallet-inv", models.TypeFunding, int64(-150000), "USD",
				"investor-1", "founder-1", sqlmock.AnyArg(), models.StatusCompleted,
				"deal-1", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec(entryInsert).
			WithArgs(sqlmock.AnyArg(), "wallet-fnd", models.TypeFunding, int64(150000), "USD",
				"investor-1", "founder-1", sqlmock.AnyArg(), models.StatusCompleted,
				"deal-1", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		dbMock.ExpectExec(balanceUpdate).
			WithArgs(int64(350000), sqlmock.AnyArg(), "wallet-inv", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec(balanceUpdate).
			WithArgs(int64(150000), sqlmock.AnyArg(), "wallet-fnd", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec(dealStatusUpdate).
			WithArgs(models.DealStatusCompleted, sqlmock.AnyArg(), "deal-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectCommit()

		deal, err := service.Transition("deal-1", models.DealStatusCompleted)
		assert.NoError(t, err)
		assert.Equal(t, models.DealStatusCompleted, deal.Status)
		publisher.AssertCalled(t, "Publish", "deal_completed", mock.Anything)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("completing a completed deal is rejected", func(t *testing.T) {
		service := NewDealService(db, NewLedgerService(db), nil)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery(dealSelectForUpdate).
			WithArgs("deal-1").
			WillReturnRows(dealRow("deal-1", "investor-1", "founder-1", 150000, "15", models.DealStatusCompleted))
		dbMock.ExpectRollback()

		_, err := service.Transition("deal-1", models.DealStatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("skipping approval is rejected", func(t *testing.T) {
		service := NewDealService(db, NewLedgerService(db), nil)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery(dealSelectForUpdate).
			WithArgs("deal-1").
			WillReturnRows(dealRow("deal-1", "investor-1", "founder-1", 150000, "15", models.DealStatusPending))
		dbMock.ExpectRollback()

		_, err := service.Transition("deal-1", models.DealStatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("insufficient investor funds leaves the deal approved", func(t *testing.T) {
		service := NewDealService(db, NewLedgerService(db), nil)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery(dealSelectForUpdate).
			WithArgs("deal-1").
			WillReturnRows(dealRow("deal-1", "investor-1", "founder-1", 150000, "15", models.DealStatusApproved))
		dbMock.ExpectQuery(walletIDSelect).
			WithArgs("investor-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wallet-inv"))
		dbMock.ExpectQuery(walletIDSelect).
			WithArgs("founder-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wallet-fnd"))
		dbMock.ExpectQuery(walletSelectForUpdate).
			WithArgs("wallet-fnd").
			WillReturnRows(walletRow("wallet-fnd", "founder-1", 0, "USD", 1))
		dbMock.ExpectQuery(walletSelectForUpdate).
			WithArgs("wallet-inv").
			WillReturnRows(walletRow("wallet-inv", "investor-1", 100, "USD", 1))
		dbMock.ExpectQuery(referenceSelect).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(entryRows())
		dbMock.ExpectRollback()

		_, err := service.Transition("deal-1", models.DealStatusCompleted)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown deal", func(t *testing.T) {
		service := NewDealService(db, NewLedgerService(db), nil)

		dbMock.ExpectBegin()
		dbMock.ExpectQuery(dealSelectForUpdate).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectRollback()

		_, err := service.Transition("missing", models.DealStatusApproved)
		assert.ErrorIs(t, err, ErrDealNotFound)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestDealService_GetDeal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDealService(db, NewLedgerService(db), nil)

	t.Run("deal not found returns 404", func(t *testing.T) {
		mock.ExpectQuery(`FROM funding_deals`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		r := httptest.NewRequest("GET", "/deals/missing", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("dealId", "missing")
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		service.GetDeal(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
