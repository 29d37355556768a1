package store

import (
	"context"
	"errors"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface implemented by the drivers. It
// hands out sub-repositories so a transaction can expose the very same
// repositories bound to the open Tx, which keeps callers from nesting
// transactions by accident.
type Store interface {
	Accounts() Accounts
	PendingAccounts() PendingAccounts
	VerificationTokens() VerificationTokens
	Revocations() Revocations

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller MUST Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. Inside fn only use the repos of tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// CreateAccount inserts a confirmed account. Duplicate email or
	// username yields ErrAlreadyExists.
	CreateAccount(ctx context.Context, a domain.Account) error

	GetAccountByID(ctx context.Context, id string) (domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// UsernameExists reports whether a confirmed account holds username.
	UsernameExists(ctx context.Context, username string) (bool, error)

	// UpdatePasswordHash sets password_hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
}

type PendingAccounts interface {
	// UpsertPendingAccount stages a registration, replacing any earlier
	// pending record for the same email.
	UpsertPendingAccount(ctx context.Context, p domain.PendingAccount) error

	GetPendingAccountByEmail(ctx context.Context, email string) (domain.PendingAccount, error)
	GetPendingAccountByUsername(ctx context.Context, username string) (domain.PendingAccount, error)

	DeletePendingAccount(ctx context.Context, id string) error

	// DeleteExpiredPendingAccounts removes registrations whose window closed
	// at or before now and returns how many went.
	DeleteExpiredPendingAccounts(ctx context.Context, now time.Time) (int64, error)
}

type VerificationTokens interface {
	// UpsertVerificationToken stores t as the only token for its
	// (OwnerEmail, Purpose), resetting hash, expiry and the used flag.
	UpsertVerificationToken(ctx context.Context, t domain.VerificationToken) error

	GetVerificationTokenByHash(ctx context.Context, hash string, purpose domain.Purpose) (domain.VerificationToken, error)

	// MarkVerificationTokenUsed flips used from 0 to 1. It reports false when
	// the row was already used, so exactly one caller ever sees true.
	MarkVerificationTokenUsed(ctx context.Context, id string, usedAt time.Time) (bool, error)

	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

type Revocations interface {
	// CreateRevocation records e and reports whether this call inserted it.
	// Recording the same fingerprint twice is not an error; the second call
	// reports false and leaves the first record in place.
	CreateRevocation(ctx context.Context, e domain.RevocationEntry) (bool, error)

	// GetRevocation returns ErrNotFound for unknown fingerprints.
	GetRevocation(ctx context.Context, fingerprint string) (domain.RevocationEntry, error)

	DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}
