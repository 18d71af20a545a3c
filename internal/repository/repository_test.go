package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maareksillamae/mock-bank/internal/models"
)

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestAdjustBalanceIsOneConditionalUpdate(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE bank\.accounts`).
		WithArgs(int64(-50), "EE1source000001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AdjustBalance(context.Background(), "EE1source000001", -50))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustBalanceInsufficientFunds(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE bank\.accounts`).
		WithArgs(int64(-50), "EE1source000001").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The account exists, so the guard condition is what stopped the update.
	rows := sqlmock.NewRows([]string{"id", "user_id", "accountnumber", "balance", "currency", "created_at", "updated_at"}).
		AddRow(1, 1, "EE1source000001", 10, "EUR", "2021-03-01", "2021-03-01")
	mock.ExpectQuery(`SELECT .+ FROM bank\.accounts`).
		WithArgs("EE1source000001").
		WillReturnRows(rows)

	err := repo.AdjustBalance(context.Background(), "EE1source000001", -50)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustBalanceUnknownAccount(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE bank\.accounts`).
		WithArgs(int64(25), "EE1nosuchacct01").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM bank\.accounts`).
		WithArgs("EE1nosuchacct01").
		WillReturnError(sql.ErrNoRows)

	err := repo.AdjustBalance(context.Background(), "EE1nosuchacct01", 25)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTransferOnlyWhilePending(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE bank\.transfers`).
		WithArgs(models.StatusCompleted, "Künter Pärtel", int64(7), models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CompleteTransfer(context.Background(), 7, "Künter Pärtel"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTransferAlreadyTerminal(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE bank\.transfers`).
		WithArgs(models.StatusCompleted, "Künter Pärtel", int64(7), models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompleteTransfer(context.Background(), 7, "Künter Pärtel")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingTransfers(t *testing.T) {
	repo, mock := newMock(t)
	created := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "account_from", "account_to", "currency", "amount",
		"explanation", "sender_name", "receiver_name", "status", "created_at",
	}).AddRow(1, 3, "EE1source000001", "777dest00000001", "EUR", 50,
		"rent", "Mari Maasikas", "", models.StatusPending, created)
	mock.ExpectQuery(`SELECT .+ FROM bank\.transfers`).
		WithArgs(models.StatusPending).
		WillReturnRows(rows)

	transfers, err := repo.PendingTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(50), transfers[0].Amount)
	assert.Equal(t, created, transfers[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRemoteBanksIsTransactional(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM bank\.remote_banks`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`INSERT INTO bank\.remote_banks`).
		WithArgs("testbank", "http://testbank.test/b2b", "key-1", "666", "Künter Pärtel", "http://testbank.test/jwks").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO bank\.remote_banks`).
		WithArgs("Demo pank", "http://demo.test/b2b", "key-2", "7v7", "Demo Bank", "http://demo.test/jwks").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	banks := []models.RemoteBank{
		{Name: "testbank", TransactionURL: "http://testbank.test/b2b", APIKey: "key-1",
			BankPrefix: "666", Owners: "Künter Pärtel", JwksURL: "http://testbank.test/jwks"},
		{Name: "Demo pank", TransactionURL: "http://demo.test/b2b", APIKey: "key-2",
			BankPrefix: "7v7", Owners: "Demo Bank", JwksURL: "http://demo.test/jwks"},
	}
	require.NoError(t, repo.ReplaceRemoteBanks(context.Background(), banks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRemoteBanksRollsBackOnError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM bank\.remote_banks`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ReplaceRemoteBanks(context.Background(), nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
