package domain

import "time"

// Turn is a single persisted question/response exchange for a user.
//
// Sequence is assigned by the store and orders turns by creation. Callers
// never set it on write.
type Turn struct {
	UserID    string
	Question  string
	Response  string
	Sequence  int64
	CreatedAt time.Time
}
