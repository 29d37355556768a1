package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
)

type verificationTokensRepo struct {
	db dbtx
}

func (r *verificationTokensRepo) UpsertVerificationToken(ctx context.Context, t domain.VerificationToken) error {
	_, err := r.db.ExecContext(ctx, upsertVerificationToken,
		t.ID,
		t.OwnerEmail,
		t.TokenHash,
		string(t.Purpose),
		toMillis(t.ExpiresAt),
		toMillis(t.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *verificationTokensRepo) GetVerificationTokenByHash(
	ctx context.Context,
	hash string,
	purpose domain.Purpose,
) (domain.VerificationToken, error) {
	var (
		t                    domain.VerificationToken
		p                    string
		used                 int
		usedAt               sql.NullInt64
		expiresAt, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, getVerificationTokenByHash, hash, string(purpose)).
		Scan(&t.ID, &t.OwnerEmail, &t.TokenHash, &p, &expiresAt, &used, &usedAt, &createdAt)
	if err != nil {
		return domain.VerificationToken{}, mapNotFound(err)
	}
	t.Purpose = domain.Purpose(p)
	t.ExpiresAt = fromMillis(expiresAt)
	t.Used = used != 0
	t.UsedAt = mapNullMillis(usedAt)
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func (r *verificationTokensRepo) MarkVerificationTokenUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, markVerificationTokenUsed, toMillis(usedAt), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *verificationTokensRepo) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredVerificationTokens, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
