package types

import "time"

// Session is conversation metadata. The message body lives in external
// storage and is never embedded here.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Title     string    `json:"title"`
	Pinned    bool      `json:"pinned"`
}
