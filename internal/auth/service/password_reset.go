package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	authmail "github.com/KasunCSB/University-Information-System-sub001/internal/auth/mail"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

type PasswordResetService struct {
	Store        store.Store
	Verification *VerificationService
	Mailer       authmail.Mailer
	Now          func() time.Time
}

func (s *PasswordResetService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RequestReset mails a password_reset link to email. An address with no
// account returns nil.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	if _, err := s.Store.Accounts().GetAccountByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slogx.FromContext(ctx).Debug("password reset for unknown email ignored")
			return nil
		}
		return storageErr("lookup account", err)
	}

	raw, _, err := s.Verification.Issue(ctx, email, domain.PurposePasswordReset)
	if err != nil {
		return err
	}

	if err := s.Mailer.Send(ctx, email, authmail.TemplateResetPassword, raw); err != nil {
		slogx.FromContext(ctx).Error("failed to send reset email", slog.Any("err", err))
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// ResetPassword redeems raw and replaces the account password in one
// transaction. The token is spent only if the new hash is stored.
func (s *PasswordResetService) ResetPassword(ctx context.Context, raw, newPassword string) (domain.Account, error) {
	if err := validatePassword(newPassword); err != nil {
		return domain.Account{}, err
	}
	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}

	var acct domain.Account
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		tok, err := s.Verification.RedeemTx(ctx, tx, raw, domain.PurposePasswordReset)
		if err != nil {
			return err
		}

		acct, err = tx.Accounts().GetAccountByEmail(ctx, tok.OwnerEmail)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return storageErr("load account", err)
		}

		now := s.now()
		if err := tx.Accounts().UpdatePasswordHash(ctx, acct.ID, hash, now); err != nil {
			return storageErr("update password", err)
		}
		acct.PasswordHash = hash
		acct.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	slogx.FromContext(ctx).Info("password reset", slog.String("account_id", acct.ID))
	return acct, nil
}
