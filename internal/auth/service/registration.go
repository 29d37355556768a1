package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	authmail "github.com/KasunCSB/University-Information-System-sub001/internal/auth/mail"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/idx"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

const MinPasswordLength = 8

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

// RegisterInput is a self-service sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string // student or lecturer; empty means student
}

// RegistrationService stages new accounts until their email is confirmed.
// Issuing an email_verification token is the only way a PendingAccount is
// created, and redeeming it is the only way one becomes an Account.
type RegistrationService struct {
	Store        store.Store
	Verification *VerificationService
	Mailer       authmail.Mailer
	Now          func() time.Time
}

func (s *RegistrationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Register validates in, stages a PendingAccount and mails the
// verification link. When only delivery fails the staged registration is
// kept and ErrDeliveryFailed is returned so the client can ask for a resend.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (domain.PendingAccount, error) {
	l := slogx.FromContext(ctx)

	email := NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)

	if err := validateEmail(email); err != nil {
		return domain.PendingAccount{}, err
	}
	if !usernameRe.MatchString(username) {
		return domain.PendingAccount{}, fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	if err := validatePassword(in.Password); err != nil {
		return domain.PendingAccount{}, err
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil || role == domain.RoleAdmin {
		return domain.PendingAccount{}, fmt.Errorf("%w: role %q cannot be self-registered", ErrInvalidInput, in.Role)
	}

	now := s.now()
	if err := s.checkAvailable(ctx, email, username, now); err != nil {
		return domain.PendingAccount{}, err
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return domain.PendingAccount{}, fmt.Errorf("hash password: %w", err)
	}

	var (
		raw     string
		pending domain.PendingAccount
	)
	refund := noRefund
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		var tok domain.VerificationToken
		var err error
		raw, tok, refund, err = s.Verification.IssueTx(ctx, tx, email, domain.PurposeEmailVerification)
		if err != nil {
			return err
		}

		pending = domain.PendingAccount{
			ID:                    idx.NewAt(now).String(),
			Username:              username,
			Email:                 email,
			PasswordHash:          hash,
			Role:                  role,
			VerificationExpiresAt: tok.ExpiresAt,
			CreatedAt:             now,
		}
		if err := tx.PendingAccounts().UpsertPendingAccount(ctx, pending); err != nil {
			return storageErr("stage pending account", err)
		}
		return nil
	})
	if err != nil {
		refund()
		return domain.PendingAccount{}, err
	}

	l.Info("registration staged",
		slog.String("pending_id", pending.ID),
		slog.String("role", role.String()),
		slog.Time("expires_at", pending.VerificationExpiresAt),
	)

	if err := s.Mailer.Send(ctx, email, authmail.TemplateVerifyEmail, raw); err != nil {
		l.Error("failed to send verification email", slog.Any("err", err))
		return pending, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return pending, nil
}

// checkAvailable rejects an email that already has an account and a
// username held by an account or by another live registration.
func (s *RegistrationService) checkAvailable(ctx context.Context, email, username string, now time.Time) error {
	_, err := s.Store.Accounts().GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrAccountExists
	case !errors.Is(err, store.ErrNotFound):
		return storageErr("lookup account", err)
	}

	taken, err := s.Store.Accounts().UsernameExists(ctx, username)
	if err != nil {
		return storageErr("lookup username", err)
	}
	if taken {
		return ErrUsernameTaken
	}

	p, err := s.Store.PendingAccounts().GetPendingAccountByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return storageErr("lookup pending username", err)
	case p.Email != email && !p.Expired(now):
		return ErrUsernameTaken
	}
	return nil
}

// VerifyEmail redeems an email_verification token and promotes the pending
// registration to an Account. Everything happens in one transaction; any
// failure leaves the pending record and the token as they were.
func (s *RegistrationService) VerifyEmail(ctx context.Context, raw string) (domain.Account, error) {
	var acct domain.Account

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		tok, err := s.Verification.RedeemTx(ctx, tx, raw, domain.PurposeEmailVerification)
		if err != nil {
			return err
		}

		now := s.now()
		p, err := tx.PendingAccounts().GetPendingAccountByEmail(ctx, tok.OwnerEmail)
		if errors.Is(err, store.ErrNotFound) {
			// Token outlived its registration.
			return ErrTokenNotFound
		}
		if err != nil {
			return storageErr("load pending account", err)
		}
		if p.Expired(now) {
			return ErrTokenExpired
		}

		acct = p.Promote(idx.NewAt(now).String(), now)
		if err := tx.Accounts().CreateAccount(ctx, acct); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrAccountExists
			}
			return storageErr("create account", err)
		}
		if err := tx.PendingAccounts().DeletePendingAccount(ctx, p.ID); err != nil {
			return storageErr("delete pending account", err)
		}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	slogx.FromContext(ctx).Info("account created",
		slog.String("account_id", acct.ID),
		slog.String("role", acct.Role.String()),
	)
	return acct, nil
}

// ResendVerification issues a fresh verification token for a live pending
// registration, superseding the previous link. Unknown or expired
// registrations return nil so the endpoint reveals nothing.
func (s *RegistrationService) ResendVerification(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	now := s.now()
	p, err := s.Store.PendingAccounts().GetPendingAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageErr("load pending account", err)
	}
	if p.Expired(now) {
		return nil
	}

	var raw string
	refund := noRefund
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		var tok domain.VerificationToken
		var err error
		raw, tok, refund, err = s.Verification.IssueTx(ctx, tx, email, domain.PurposeEmailVerification)
		if err != nil {
			return err
		}
		p.VerificationExpiresAt = tok.ExpiresAt
		if err := tx.PendingAccounts().UpsertPendingAccount(ctx, p); err != nil {
			return storageErr("extend pending account", err)
		}
		return nil
	})
	if err != nil {
		refund()
		return err
	}

	if err := s.Mailer.Send(ctx, email, authmail.TemplateVerifyEmail, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return nil
}

func validatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(pw) > 256 {
		return fmt.Errorf("%w: at most 256 characters", ErrWeakPassword)
	}
	return nil
}
