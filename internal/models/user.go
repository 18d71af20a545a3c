package models

// User represents a registered user in the system
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstname"`
	LastName     string `json:"lastname"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // Not serialized
	CreatedAt    string `json:"created_at"`
}

// FullName returns the user's display name as sent to peer banks.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
