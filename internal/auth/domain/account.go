package domain

import "time"

// Account is a confirmed portal user. Accounts only come into existence by
// promoting a PendingAccount whose email was verified.
type Account struct {
	ID              string
	Username        string
	Email           string // lower-cased, unique
	PasswordHash    string // argon2id PHC string
	Role            Role
	IsEmailVerified bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PendingAccount stages a registration until its email is confirmed. It is
// promoted exactly once or expires at VerificationExpiresAt.
type PendingAccount struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	Role                  Role
	VerificationExpiresAt time.Time
	CreatedAt             time.Time
}

// Expired reports whether the staging window has closed at now.
func (p PendingAccount) Expired(now time.Time) bool {
	return !now.Before(p.VerificationExpiresAt)
}

// Promote builds the Account a verified pending registration turns into.
func (p PendingAccount) Promote(id string, now time.Time) Account {
	return Account{
		ID:              id,
		Username:        p.Username,
		Email:           p.Email,
		PasswordHash:    p.PasswordHash,
		Role:            p.Role,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
