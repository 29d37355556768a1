package sqlite

import (
	"context"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
)

type pendingAccountsRepo struct {
	db dbtx
}

func (r *pendingAccountsRepo) UpsertPendingAccount(ctx context.Context, p domain.PendingAccount) error {
	_, err := r.db.ExecContext(ctx, upsertPendingAccount,
		p.ID,
		p.Username,
		p.Email,
		p.PasswordHash,
		string(p.Role),
		toMillis(p.VerificationExpiresAt),
		toMillis(p.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *pendingAccountsRepo) GetPendingAccountByEmail(ctx context.Context, email string) (domain.PendingAccount, error) {
	return scanPendingAccount(r.db.QueryRowContext(ctx, getPendingAccountByEmail, email))
}

func (r *pendingAccountsRepo) GetPendingAccountByUsername(ctx context.Context, username string) (domain.PendingAccount, error) {
	return scanPendingAccount(r.db.QueryRowContext(ctx, getPendingAccountByUsername, username))
}

func (r *pendingAccountsRepo) DeletePendingAccount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, deletePendingAccount, id)
	return err
}

func (r *pendingAccountsRepo) DeleteExpiredPendingAccounts(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredPendingAccounts, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanPendingAccount(row rowScanner) (domain.PendingAccount, error) {
	var (
		p                    domain.PendingAccount
		role                 string
		expiresAt, createdAt int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &role, &expiresAt, &createdAt); err != nil {
		return domain.PendingAccount{}, mapNotFound(err)
	}
	p.Role = domain.Role(role)
	p.VerificationExpiresAt = fromMillis(expiresAt)
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}
