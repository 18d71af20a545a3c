package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/maareksillamae/mock-bank/internal/config"
	"github.com/maareksillamae/mock-bank/internal/models"
	"github.com/maareksillamae/mock-bank/internal/repository"
	"github.com/maareksillamae/mock-bank/internal/trust"
)

// ErrValidation marks a request that failed a field check.
var ErrValidation = errors.New("validation failed")

// ErrEmailTaken is returned when registering with an email already in use.
var ErrEmailTaken = errors.New("email already in use")

// ErrInvalidCredentials is returned on a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUnknownAccount is returned when an inbound transfer names a
// destination account this bank does not hold.
var ErrUnknownAccount = errors.New("account not found in this bank")

// ErrNotAccountOwner is returned when a transfer is submitted from an
// account the caller does not own.
var ErrNotAccountOwner = errors.New("account does not belong to user")

const sessionTTL = 24 * time.Hour

// Ledger is the slice of the durable store the service needs.
type Ledger interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateSession(ctx context.Context, token string) error
	DeleteSession(ctx context.Context, token string) error
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	FindAccountByUserID(ctx context.Context, userID int64) (*models.Account, error)
	AccountOwnerName(ctx context.Context, number string) (string, error)
	AdjustBalance(ctx context.Context, number string, delta int64) error
	CreateTransfer(ctx context.Context, transfer *models.Transfer) error
	TransfersByAccount(ctx context.Context, number string) (sent, received []models.Transfer, err error)
}

// Resolver resolves a bank prefix to a directory entry.
type Resolver interface {
	Resolve(ctx context.Context, prefix string) (*models.RemoteBank, error)
}

// Verifier checks an inbound token against a sending bank's keys.
type Verifier interface {
	Verify(ctx context.Context, token string, bank *models.RemoteBank) (*models.TransferPayload, error)
}

// Converter converts an amount between currencies.
type Converter interface {
	Convert(ctx context.Context, amount int64, from, to string) (int64, error)
}

// Service handles business logic
type Service struct {
	ledger    Ledger
	directory Resolver
	verifier  Verifier
	converter Converter
	config    *config.Config
	log       *logrus.Logger
}

// NewService initializes a new service
func NewService(ledger Ledger, dir Resolver, verifier Verifier, converter Converter, cfg *config.Config, log *logrus.Logger) *Service {
	return &Service{
		ledger:    ledger,
		directory: dir,
		verifier:  verifier,
		converter: converter,
		config:    cfg,
		log:       log,
	}
}

// Register creates a new user with a hashed password and an account
// numbered under this bank's prefix.
func (s *Service) Register(ctx context.Context, firstname, lastname, email, password string) (*models.User, *models.Account, error) {
	if len(firstname) < 2 || len(lastname) < 2 {
		return nil, nil, fmt.Errorf("%w: first and last name must be at least 2 characters", ErrValidation)
	}
	if len(email) < 6 || !strings.Contains(email, "@") {
		return nil, nil, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if len(password) < 6 {
		return nil, nil, fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}

	if _, err := s.ledger.FindUserByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		FirstName:    firstname,
		LastName:     lastname,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	if err := s.ledger.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	account := &models.Account{
		UserID:   user.ID,
		Number:   s.newAccountNumber(),
		Balance:  0,
		Currency: "EUR",
	}
	if err := s.ledger.CreateAccount(ctx, account); err != nil {
		return nil, nil, err
	}

	s.log.Infof("User registered: %s (account %s)", user.Email, account.Number)
	return user, account, nil
}

// newAccountNumber generates a bank-prefixed account number.
func (s *Service) newAccountNumber() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s.config.BankPrefix + random[:12]
}

// Login authenticates a user, records a session and returns its token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.ledger.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.ledger.CreateSession(ctx, tokenString); err != nil {
		return "", err
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// Logout deletes the session behind the token
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.ledger.DeleteSession(ctx, token)
}

// Profile returns the user and account of the authenticated user
func (s *Service) Profile(ctx context.Context, userID int64) (*models.User, *models.Account, error) {
	user, err := s.ledger.FindUserByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.ledger.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, account, nil
}

// CreateTransfer validates and records an outbound transfer in state
// pending; the settlement sweep advances it from there.
func (s *Service) CreateTransfer(ctx context.Context, userID int64, accountFrom, accountTo string, amount int64, explanation string) (*models.Transfer, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if explanation == "" {
		return nil, fmt.Errorf("%w: explanation is required", ErrValidation)
	}
	if len(accountTo) < models.PrefixLen {
		return nil, fmt.Errorf("%w: receiving account number is too short", ErrValidation)
	}
	if models.BankPrefix(accountFrom) != s.config.BankPrefix {
		return nil, fmt.Errorf("%w: sending account is not held by this bank", ErrValidation)
	}

	account, err := s.ledger.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Number != accountFrom {
		return nil, ErrNotAccountOwner
	}
	if account.Balance < amount {
		return nil, repository.ErrInsufficientFunds
	}

	user, err := s.ledger.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	transfer := &models.Transfer{
		UserID:      userID,
		AccountFrom: accountFrom,
		AccountTo:   accountTo,
		Currency:    account.Currency,
		Amount:      amount,
		Explanation: explanation,
		SenderName:  user.FullName(),
		Status:      models.StatusPending,
	}
	if err := s.ledger.CreateTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	s.log.Infof("Transfer %d created: %s -> %s (%d %s)",
		transfer.ID, accountFrom, accountTo, amount, account.Currency)
	return transfer, nil
}

// History returns the user's completed sent and received transfers
func (s *Service) History(ctx context.Context, userID int64) (sent, received []models.Transfer, err error) {
	account, err := s.ledger.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.ledger.TransfersByAccount(ctx, account.Number)
}

// ReceiveTransfer handles a signed token sent by a peer bank. Every
// step is a hard-fail point; nothing is credited until the signature
// checks out and the amount is converted. Returns the receiver's
// display name for the response.
func (s *Service) ReceiveTransfer(ctx context.Context, token string) (string, error) {
	payload, err := trust.DecodePayload(token)
	if err != nil {
		return "", err
	}

	account, err := s.ledger.FindAccountByNumber(ctx, payload.AccountTo)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrUnknownAccount
	}
	if err != nil {
		return "", err
	}

	prefix := models.BankPrefix(payload.AccountFrom)
	if prefix == "" {
		return "", fmt.Errorf("%w: sending account carries no bank prefix", trust.ErrMalformedToken)
	}

	bank, err := s.directory.Resolve(ctx, prefix)
	if err != nil {
		return "", err
	}

	verified, err := s.verifier.Verify(ctx, token, bank)
	if err != nil {
		return "", err
	}

	amount, err := s.converter.Convert(ctx, verified.Amount, verified.Currency, account.Currency)
	if err != nil {
		return "", err
	}

	receiverName, err := s.ledger.AccountOwnerName(ctx, account.Number)
	if err != nil {
		return "", err
	}

	if err := s.ledger.AdjustBalance(ctx, account.Number, amount); err != nil {
		return "", err
	}

	record := &models.Transfer{
		AccountFrom:  verified.AccountFrom,
		AccountTo:    verified.AccountTo,
		Currency:     verified.Currency,
		Amount:       verified.Amount,
		Explanation:  verified.Explanation,
		SenderName:   verified.SenderName,
		ReceiverName: receiverName,
		Status:       models.StatusCompleted,
	}
	if err := s.ledger.CreateTransfer(ctx, record); err != nil {
		// The credit already happened; surface the error but the
		// audit record is what is missing, not the money.
		s.log.Errorf("Failed to record inbound transfer to %s: %v", account.Number, err)
		return "", err
	}

	s.log.Infof("Inbound transfer from %s credited %d %s to %s",
		verified.AccountFrom, amount, account.Currency, account.Number)
	return receiverName, nil
}
