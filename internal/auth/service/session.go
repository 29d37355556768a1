package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

// SessionService ties signed tokens to accounts: login, refresh rotation,
// logout and per-request authentication.
type SessionService struct {
	Store       store.Store
	Tokens      *TokenService
	Revocations *RevocationService
	Now         func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Login checks email and password and issues a token pair. Unknown emails
// and wrong passwords are both ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, email, password string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	acct, err := s.Store.Accounts().GetAccountByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		// Spend the same argon2 work as a real check.
		_ = cryptox.VerifyPassword(password, cryptox.DecoyHash())
		return domain.TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.TokenPair{}, storageErr("lookup account", err)
	}

	if err := cryptox.VerifyPassword(password, acct.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash unusable", slog.String("account_id", acct.ID), slog.Any("err", err))
		}
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	if cryptox.NeedsRehash(acct.PasswordHash) {
		if hash, err := cryptox.HashPassword(password); err == nil {
			if err := s.Store.Accounts().UpdatePasswordHash(ctx, acct.ID, hash, s.now()); err != nil {
				l.Warn("failed to upgrade password hash", slog.Any("err", err))
			}
		}
	}

	pair, err := s.Tokens.IssuePair(acct)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	l.Info("login", slog.String("account_id", acct.ID))
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked so it works once, also across instances sharing the revocation
// store: concurrent refreshes with one token yield one pair.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	rc, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if s.Revocations.IsRevoked(ctx, refreshToken) {
		slogx.FromContext(ctx).Warn("revoked refresh token presented",
			slog.String("account_id", rc.SubjectID),
			slog.String("token_id", slogx.Redact(rc.TokenID)),
		)
		return domain.TokenPair{}, ErrTokenRevoked
	}

	acct, err := s.Store.Accounts().GetAccountByID(ctx, rc.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenPair{}, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return domain.TokenPair{}, storageErr("load account", err)
	}

	// Only the caller that records the rotation gets a new pair.
	if err := s.Revocations.RevokeFirst(ctx, refreshToken, domain.ReasonRotated); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			slogx.FromContext(ctx).Warn("refresh token replayed",
				slog.String("account_id", rc.SubjectID),
				slog.String("token_id", slogx.Redact(rc.TokenID)),
			)
		}
		return domain.TokenPair{}, err
	}
	return s.Tokens.IssuePair(acct)
}

// Logout revokes the access token and, when given, the refresh token. Both
// are attempted; their errors are joined.
func (s *SessionService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var errs []error
	if accessToken != "" {
		if err := s.Revocations.Revoke(ctx, accessToken, domain.ReasonLogout); err != nil {
			errs = append(errs, fmt.Errorf("revoke access token: %w", err))
		}
	}
	if refreshToken != "" {
		if err := s.Revocations.Revoke(ctx, refreshToken, domain.ReasonLogout); err != nil {
			errs = append(errs, fmt.Errorf("revoke refresh token: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Authenticate verifies an access token and rejects it if revoked.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (domain.AccessClaims, error) {
	c, err := s.Tokens.VerifyAccess(accessToken)
	if err != nil {
		return domain.AccessClaims{}, err
	}
	if s.Revocations.IsRevoked(ctx, accessToken) {
		return domain.AccessClaims{}, ErrTokenRevoked
	}
	return c, nil
}
