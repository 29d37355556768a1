package jwtx

import (
	"slices"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes for the portal. Access tokens are short lived and
// carried on every request; refresh tokens live for days.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Values of the "token_use" claim. A token minted for one use is never
// accepted for the other, even if someone reuses a secret by mistake.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Claims are the JWT claims shared by access and refresh tokens. Refresh
// tokens only populate the registered claims and TokenUse.
type Claims struct {
	jwt.RegisteredClaims

	// TokenUse is either UseAccess or UseRefresh.
	TokenUse string `json:"token_use"`

	Email           string `json:"email,omitempty"`
	Role            string `json:"role,omitempty"`
	IsEmailVerified bool   `json:"email_verified,omitempty"`
}

// NewAccessClaims builds access-token claims issued at now.
func NewAccessClaims(
	subject, email, role string,
	emailVerified bool,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: registered(subject, NewJTI(), ttl, issuer, audience, now),
		TokenUse:         UseAccess,
		Email:            email,
		Role:             role,
		IsEmailVerified:  emailVerified,
	}
}

// NewRefreshClaims builds refresh-token claims. The tokenID doubles as the
// jti so a presented refresh token can be correlated with its issuance.
func NewRefreshClaims(
	subject, tokenID string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: registered(subject, tokenID, ttl, issuer, audience, now),
		TokenUse:         UseRefresh,
	}
}

func registered(subject, jti string, ttl time.Duration, issuer string, audience []string, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings(audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        jti,
	}
}

// NewJTI returns a URL-safe random identifier with 128 bits of entropy.
func NewJTI() string {
	return cryptox.MustGenerateToken(cryptox.TokenSize128)
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateUse checks the token_use claim.
func (c *Claims) ValidateUse(expected string) error {
	if c.TokenUse != expected {
		return ErrTokenUse
	}
	return nil
}

// ValidateExpiry reports ErrExpired unless now is strictly before exp. A
// token without exp is rejected; every token we mint carries one.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}
