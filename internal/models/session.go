package models

// Session is a login session record; a token is only accepted while
// its session row exists.
type Session struct {
	ID        int64  `json:"id"`
	AuthToken string `json:"-"`
	CreatedAt string `json:"created_at"`
}
