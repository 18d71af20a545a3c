package models

import "time"

// Transfer statuses. The progression is one-way:
// pending -> inProgress -> completed | failed.
const (
	StatusPending    = "pending"
	StatusInProgress = "inProgress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Transfer represents a directed money movement between two accounts,
// possibly across banks. It is never deleted; it is the audit trail.
type Transfer struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id,omitempty"`
	AccountFrom  string    `json:"accountFrom"`
	AccountTo    string    `json:"accountTo"`
	Currency     string    `json:"currency"`
	Amount       int64     `json:"amount"`
	Explanation  string    `json:"explanation"`
	SenderName   string    `json:"senderName"`
	ReceiverName string    `json:"receiverName,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Payload returns the economically relevant fields of the transfer,
// the part that gets signed and sent to the receiving bank.
func (t *Transfer) Payload() TransferPayload {
	return TransferPayload{
		AccountFrom: t.AccountFrom,
		AccountTo:   t.AccountTo,
		Currency:    t.Currency,
		Amount:      t.Amount,
		Explanation: t.Explanation,
		SenderName:  t.SenderName,
	}
}

// TransferPayload is the canonical wire form of a transfer exchanged
// between banks inside a signed token.
type TransferPayload struct {
	AccountFrom string `json:"accountFrom"`
	AccountTo   string `json:"accountTo"`
	Currency    string `json:"currency"`
	Amount      int64  `json:"amount"`
	Explanation string `json:"explanation"`
	SenderName  string `json:"senderName"`
}

// PrefixLen is the length of the bank prefix on account numbers.
const PrefixLen = 3

// BankPrefix extracts the bank prefix from an account number. Empty
// when the account number is too short to carry one.
func BankPrefix(accountNumber string) string {
	if len(accountNumber) < PrefixLen {
		return ""
	}
	return accountNumber[:PrefixLen]
}
