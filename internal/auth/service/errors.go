package service

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means the service cannot start as configured.
	ErrConfiguration = errors.New("configuration_error")

	// ErrInvalidToken covers every reason a signed token is not accepted.
	ErrInvalidToken = errors.New("invalid_token")

	// ErrTokenRevoked is returned for a valid token on the deny list.
	ErrTokenRevoked = errors.New("token_revoked")

	// ErrRedemptionFailed is the parent of every emailed-token failure.
	ErrRedemptionFailed = errors.New("redemption_failed")

	ErrTokenNotFound    = fmt.Errorf("%w: token not found", ErrRedemptionFailed)
	ErrTokenAlreadyUsed = fmt.Errorf("%w: token already used", ErrRedemptionFailed)

	// ErrTokenExpired is shared by signed tokens and emailed tokens. It wraps
	// both parents so either check matches.
	ErrTokenExpired = fmt.Errorf("%w: %w: token expired", ErrInvalidToken, ErrRedemptionFailed)

	// ErrStorageUnavailable wraps persistence failures.
	ErrStorageUnavailable = errors.New("storage_unavailable")

	ErrAccountExists      = errors.New("account_exists")
	ErrUsernameTaken      = errors.New("username_taken")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrWeakPassword       = errors.New("weak_password")
	ErrInvalidInput       = errors.New("invalid_input")
	ErrDeliveryFailed     = errors.New("delivery_failed")
	ErrIssueThrottled     = errors.New("issue_throttled")
)

// PublicMessage is the text safe to show a client for err. Emailed-token
// failures collapse to one message so callers cannot tell which tokens
// exist or were used.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRedemptionFailed):
		return "invalid or expired token"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRevoked):
		return "invalid or expired token"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid email or password"
	case errors.Is(err, ErrAccountExists), errors.Is(err, ErrUsernameTaken):
		return "an account with these details already exists"
	case errors.Is(err, ErrWeakPassword):
		return "password does not meet the requirements"
	case errors.Is(err, ErrInvalidInput):
		return "invalid request"
	case errors.Is(err, ErrIssueThrottled):
		return "too many requests, try again later"
	case errors.Is(err, ErrDeliveryFailed):
		return "we could not send the email, try again later"
	default:
		return "internal error"
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
