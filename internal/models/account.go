package models

// Account represents a local user's account. Balance is kept in whole
// currency units and must never go negative through a local debit.
type Account struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Number    string `json:"accountnumber"`
	Balance   int64  `json:"balance"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
