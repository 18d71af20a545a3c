package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maareksillamae/mock-bank/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInsufficientFunds is returned when a debit would take a balance
// below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (firstname, lastname, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.FirstName, user.LastName, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, firstname, lastname, email, password_hash, created_at
		FROM bank.users
		WHERE email = $1`
	err := r.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by its identifier
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, firstname, lastname, email, password_hash, created_at
		FROM bank.users
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateSession records a login session token
func (r *Repository) CreateSession(ctx context.Context, token string) error {
	query := `INSERT INTO bank.sessions (auth_token, created_at) VALUES ($1, CURRENT_TIMESTAMP)`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// DeleteSession removes a session token, logging the user out
func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	query := `DELETE FROM bank.sessions WHERE auth_token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SessionExists reports whether a session token is still active
func (r *Repository) SessionExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bank.sessions WHERE auth_token = $1)`
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

// CreateAccount creates a new account in the database
func (r *Repository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO bank.accounts (user_id, accountnumber, balance, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, account.UserID, account.Number, account.Balance, account.Currency).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindAccountByNumber retrieves an account by its account number
func (r *Repository) FindAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	account := &models.Account{}
	query := `
		SELECT id, user_id, accountnumber, balance, currency, created_at, updated_at
		FROM bank.accounts
		WHERE accountnumber = $1`
	err := r.db.QueryRowContext(ctx, query, number).
		Scan(&account.ID, &account.UserID, &account.Number, &account.Balance, &account.Currency,
			&account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// FindAccountByUserID retrieves the account owned by a user
func (r *Repository) FindAccountByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	account := &models.Account{}
	query := `
		SELECT id, user_id, accountnumber, balance, currency, created_at, updated_at
		FROM bank.accounts
		WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&account.ID, &account.UserID, &account.Number, &account.Balance, &account.Currency,
			&account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// AccountOwnerName returns the display name of the user owning the account
func (r *Repository) AccountOwnerName(ctx context.Context, number string) (string, error) {
	var first, last string
	query := `
		SELECT u.firstname, u.lastname
		FROM bank.accounts a
		JOIN bank.users u ON u.id = a.user_id
		WHERE a.accountnumber = $1`
	err := r.db.QueryRowContext(ctx, query, number).Scan(&first, &last)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find account owner: %w", err)
	}
	return first + " " + last, nil
}

// AdjustBalance applies a signed delta to an account balance as a single
// conditional update. The balance is never allowed below zero; a debit
// past zero returns ErrInsufficientFunds and changes nothing.
func (r *Repository) AdjustBalance(ctx context.Context, number string, delta int64) error {
	query := `
		UPDATE bank.accounts
		SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE accountnumber = $2 AND balance + $1 >= 0`
	res, err := r.db.ExecContext(ctx, query, delta, number)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if rows == 0 {
		if _, err := r.FindAccountByNumber(ctx, number); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

// CreateTransfer records a transfer in the database
func (r *Repository) CreateTransfer(ctx context.Context, transfer *models.Transfer) error {
	query := `
		INSERT INTO bank.transfers
			(user_id, account_from, account_to, currency, amount, explanation,
			 sender_name, receiver_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		transfer.UserID, transfer.AccountFrom, transfer.AccountTo, transfer.Currency,
		transfer.Amount, transfer.Explanation, transfer.SenderName, transfer.ReceiverName,
		transfer.Status).
		Scan(&transfer.ID, &transfer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

// PendingTransfers loads every transfer still waiting to be settled
func (r *Repository) PendingTransfers(ctx context.Context) ([]models.Transfer, error) {
	query := `
		SELECT id, user_id, account_from, account_to, currency, amount,
		       explanation, sender_name, COALESCE(receiver_name, ''), status, created_at
		FROM bank.transfers
		WHERE status = $1
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.ID, &t.UserID, &t.AccountFrom, &t.AccountTo, &t.Currency,
			&t.Amount, &t.Explanation, &t.SenderName, &t.ReceiverName, &t.Status,
			&t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending transfers: %w", err)
	}
	return transfers, nil
}

// CompleteTransfer marks a pending transfer completed and records the
// receiver's name. The update is conditional on the transfer still being
// pending, so a completed or failed record is never overwritten.
func (r *Repository) CompleteTransfer(ctx context.Context, id int64, receiverName string) error {
	return r.finishTransfer(ctx, id, models.StatusCompleted, receiverName)
}

// MarkTransferFailed moves a pending transfer to its terminal failed state
func (r *Repository) MarkTransferFailed(ctx context.Context, id int64) error {
	return r.finishTransfer(ctx, id, models.StatusFailed, "")
}

func (r *Repository) finishTransfer(ctx context.Context, id int64, status, receiverName string) error {
	query := `
		UPDATE bank.transfers
		SET status = $1, receiver_name = NULLIF($2, ''), updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, status, receiverName, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update transfer %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transfer %d: %w", id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TransfersByAccount returns the completed transfers sent from and
// received by an account number.
func (r *Repository) TransfersByAccount(ctx context.Context, number string) (sent, received []models.Transfer, err error) {
	query := `
		SELECT id, user_id, account_from, account_to, currency, amount,
		       explanation, sender_name, COALESCE(receiver_name, ''), status, created_at
		FROM bank.transfers
		WHERE (account_from = $1 OR account_to = $1) AND status = $2
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, number, models.StatusCompleted)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transfers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.ID, &t.UserID, &t.AccountFrom, &t.AccountTo, &t.Currency,
			&t.Amount, &t.Explanation, &t.SenderName, &t.ReceiverName, &t.Status,
			&t.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if t.AccountFrom == number {
			sent = append(sent, t)
		} else {
			received = append(received, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read transfers: %w", err)
	}
	return sent, received, nil
}

// FindRemoteBank retrieves a peer bank by its prefix
func (r *Repository) FindRemoteBank(ctx context.Context, prefix string) (*models.RemoteBank, error) {
	bank := &models.RemoteBank{}
	query := `
		SELECT name, transaction_url, COALESCE(api_key, ''), bank_prefix, COALESCE(owners, ''), jwks_url
		FROM bank.remote_banks
		WHERE bank_prefix = $1`
	err := r.db.QueryRowContext(ctx, query, prefix).
		Scan(&bank.Name, &bank.TransactionURL, &bank.APIKey, &bank.BankPrefix, &bank.Owners, &bank.JwksURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find remote bank: %w", err)
	}
	return bank, nil
}

// ReplaceRemoteBanks swaps the whole remote bank collection for the given
// entries inside one transaction, so readers never observe a half-empty
// directory.
func (r *Repository) ReplaceRemoteBanks(ctx context.Context, banks []models.RemoteBank) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bank.remote_banks`); err != nil {
		return fmt.Errorf("failed to clear remote banks: %w", err)
	}

	query := `
		INSERT INTO bank.remote_banks (name, transaction_url, api_key, bank_prefix, owners, jwks_url)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, b := range banks {
		if _, err := tx.ExecContext(ctx, query,
			b.Name, b.TransactionURL, b.APIKey, b.BankPrefix, b.Owners, b.JwksURL); err != nil {
			return fmt.Errorf("failed to insert remote bank %s: %w", b.BankPrefix, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace: %w", err)
	}
	return nil
}
