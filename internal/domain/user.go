package domain

import "time"

// User represents a chat user known to the bot. Users are created on first
// contact and only the credit ledger mutates their balances.
type User struct {
	ID             int64
	Credits        int
	FreeUsed       int
	LastReset      time.Time
	TotalGenerated int
	CreatedAt      time.Time
}

// FreeRemaining returns how many free generations the user has left today.
func (u User) FreeRemaining(dailyLimit int) int {
	remaining := dailyLimit - u.FreeUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
