package sqlite

import (
	"context"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
)

type accountsRepo struct {
	db dbtx
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.db.ExecContext(ctx, createAccount,
		a.ID,
		a.Username,
		a.Email,
		a.PasswordHash,
		string(a.Role),
		boolToInt(a.IsEmailVerified),
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, getAccountByID, id))
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, getAccountByEmail, email))
}

func (r *accountsRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, countAccountsByUsername, username).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, updateAccountPasswordHash, hash, toMillis(now), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                    domain.Account
		role                 string
		verified             int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &role, &verified, &createdAt, &updatedAt); err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.Role = domain.Role(role)
	a.IsEmailVerified = verified != 0
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}
