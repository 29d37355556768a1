package domain

import "time"

// TokenKind selects which secret and lifetime a token is issued under.
type TokenKind int

const (
	TokenAccess TokenKind = iota + 1
	TokenRefresh
)

func (k TokenKind) String() string {
	switch k {
	case TokenAccess:
		return "access"
	case TokenRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AccessClaims are the identity facts signed into an access token.
type AccessClaims struct {
	SubjectID       string
	Email           string
	Role            Role
	IsEmailVerified bool
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// RefreshClaims identify a refresh token. TokenID is 128 random bits,
// base64url encoded.
type RefreshClaims struct {
	SubjectID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationReason is recorded alongside a revocation for auditing.
type RevocationReason string

const (
	ReasonLogout        RevocationReason = "logout"
	ReasonRotated       RevocationReason = "rotated"
	ReasonPasswordReset RevocationReason = "password_reset"
	ReasonAdmin         RevocationReason = "admin"
)

// RevocationEntry marks one token as unusable until ExpiresAt, the token's
// own expiry. After that the signature check rejects it anyway.
type RevocationEntry struct {
	Fingerprint string
	ExpiresAt   time.Time
	Reason      RevocationReason
	RecordedAt  time.Time
}
