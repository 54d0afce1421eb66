package services

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestWalletService_GetWalletByUserID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	t.Run("existing wallet", func(t *testing.T) {
		mock.ExpectQuery(`FROM wallets\s+WHERE user_id = \$1`).
			WithArgs("user-1").
			WillReturnRows(walletRow("wallet-1", "user-1", 150000, "USD", 3))

		wallet, err := service.GetWalletByUserID("user-1")
		assert.NoError(t, err)
		assert.Equal(t, "wallet-1", wallet.ID)
		assert.Equal(t, int64(150000), wallet.Balance)
		assert.Equal(t, "1500.00", wallet.DisplayBalance())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing wallet", func(t *testing.T) {
		mock.ExpectQuery(`FROM wallets\s+WHERE user_id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetWalletByUserID("ghost")
		assert.ErrorIs(t, err, ErrWalletNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_CreateWalletTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO wallets`).
		WithArgs(sqlmock.AnyArg(), "user-1", int64(0), "USD", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	dbTx, err := db.Begin()
	assert.NoError(t, err)

	wallet, err := service.CreateWalletTx(dbTx, "user-1", "USD")
	assert.NoError(t, err)
	assert.NotEmpty(t, wallet.ID)
	assert.Equal(t, int64(0), wallet.Balance)
	assert.Equal(t, 1, wallet.Version)

	assert.NoError(t, dbTx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletService_GetWallet(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db)

	t.Run("returns wallet with display balance", func(t *testing.T) {
		mock.ExpectQuery(`FROM wallets\s+WHERE user_id = \$1`).
			WithArgs("user-1").
			WillReturnRows(walletRow("wallet-1", "user-1", 6000, "USD", 1))

		r := httptest.NewRequest("GET", "/wallets/user-1", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("userId", "user-1")
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		service.GetWallet(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"displayBalance":"60.00"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing wallet returns 404", func(t *testing.T) {
		mock.ExpectQuery(`FROM wallets\s+WHERE user_id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		r := httptest.NewRequest("GET", "/wallets/ghost", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("userId", "ghost")
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		service.GetWallet(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
