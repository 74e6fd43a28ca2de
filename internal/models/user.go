package models

import "time"

// User is an end user who spends credits on generated content.
type User struct {
	ID    string `db:"id"`
	Email string `db:"email"`

	// CreditBalance is NULL when the balance could not be determined.
	// A NULL balance is not the same as a zero balance.
	CreditBalance *int64 `db:"credit_balance"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasBalance reports whether the balance is known.
func (u *User) HasBalance() bool {
	return u != nil && u.CreditBalance != nil
}

// Balance returns the credit balance, treating an unknown balance as 0.
func (u *User) Balance() int64 {
	if !u.HasBalance() {
		return 0
	}
	return *u.CreditBalance
}

// CanAfford reports whether a known balance covers cost credits.
func (u *User) CanAfford(cost int64) bool {
	return u.HasBalance() && *u.CreditBalance >= cost
}
