package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/maareksillamae/mock-bank/internal/directory"
	"github.com/maareksillamae/mock-bank/internal/exchange"
	"github.com/maareksillamae/mock-bank/internal/middleware"
	"github.com/maareksillamae/mock-bank/internal/models"
	"github.com/maareksillamae/mock-bank/internal/repository"
	"github.com/maareksillamae/mock-bank/internal/service"
	"github.com/maareksillamae/mock-bank/internal/trust"
)

// Handler exposes the HTTP surface of the bank.
type Handler struct {
	svc   *service.Service
	trust *trust.Trust
	log   *logrus.Logger
}

// NewHandler initializes the HTTP handlers.
func NewHandler(svc *service.Service, t *trust.Trust, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, trust: t, log: log}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstname"`
		LastName  string `json:"lastname"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, account, err := h.svc.Register(r.Context(), req.FirstName, req.LastName, req.Email, req.Password)
	if errors.Is(err, service.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, service.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "Email already in use!")
		return
	}
	if err != nil {
		h.log.Errorf("Registration failed: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    user,
		"account": account,
	})
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		h.log.Errorf("Login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Logout deletes the caller's session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.Token(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "access denied")
		return
	}
	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.log.Errorf("Logout failed: %v", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

// Profile returns the authenticated user's details and account number
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "access denied")
		return
	}

	user, account, err := h.svc.Profile(r.Context(), userID)
	if err != nil {
		h.log.Errorf("Profile lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"firstname":     user.FirstName,
		"lastname":      user.LastName,
		"email":         user.Email,
		"accountnumber": account.Number,
	})
}

// Balance returns the authenticated user's balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "access denied")
		return
	}

	user, account, err := h.svc.Profile(r.Context(), userID)
	if err != nil {
		h.log.Errorf("Balance lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"firstname": user.FirstName,
		"balance":   account.Balance,
		"currency":  account.Currency,
	})
}

// CreateTransfer accepts a transfer for settlement
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "access denied")
		return
	}

	var req struct {
		AccountFrom string `json:"accountFrom"`
		AccountTo   string `json:"accountTo"`
		Amount      int64  `json:"amount"`
		Explanation string `json:"explanation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	transfer, err := h.svc.CreateTransfer(r.Context(), userID, req.AccountFrom, req.AccountTo, req.Amount, req.Explanation)
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotAccountOwner):
		writeError(w, http.StatusUnauthorized, "You can only make transfers from your own account")
	case errors.Is(err, repository.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "Insufficient funds!")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusBadRequest, "account not found")
	case err != nil:
		h.log.Errorf("Transfer creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create transfer")
	default:
		writeJSON(w, http.StatusCreated, transfer)
	}
}

// History returns the caller's completed transfers
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "access denied")
		return
	}

	sent, received, err := h.svc.History(r.Context(), userID)
	if err != nil {
		h.log.Errorf("History lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load transfers")
		return
	}
	if sent == nil {
		sent = []models.Transfer{}
	}
	if received == nil {
		received = []models.Transfer{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers_sent":     sent,
		"transfers_received": received,
	})
}

// TransferB2B is the protocol endpoint peer banks deliver signed
// transfers to.
func (h *Handler) TransferB2B(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JWT == "" {
		writeError(w, http.StatusBadRequest, "request must carry a jwt field")
		return
	}

	receiverName, err := h.svc.ReceiveTransfer(r.Context(), req.JWT)
	if err != nil {
		h.log.Warnf("Inbound transfer rejected: %v", err)
		writeError(w, b2bStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"receiverName": receiverName})
}

// b2bStatus maps an inbound-processing failure to an HTTP status:
// caller mistakes are 400, upstream trouble is 502, the rest 500.
func b2bStatus(err error) int {
	switch {
	case errors.Is(err, trust.ErrMalformedToken),
		errors.Is(err, trust.ErrUntrustedSigner),
		errors.Is(err, service.ErrUnknownAccount),
		errors.Is(err, directory.ErrUnknownBank):
		return http.StatusBadRequest
	case errors.Is(err, directory.ErrDirectoryUnavailable),
		errors.Is(err, trust.ErrKeyDiscoveryFailed),
		errors.Is(err, exchange.ErrRateUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// JWKS serves this bank's public key set for peers to verify our
// signatures against.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trust.JWKS())
}
