package domain

import "time"

// Purpose scopes a verification token to one flow.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// VerificationToken is the stored half of an emailed single-use token. Only
// the fingerprint of the raw value is kept. There is at most one row per
// (OwnerEmail, Purpose); issuing again replaces it.
type VerificationToken struct {
	ID         string
	OwnerEmail string
	TokenHash  string
	Purpose    Purpose
	ExpiresAt  time.Time
	Used       bool
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token can no longer be redeemed at now.
func (t VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
