package sqlite

import (
	"context"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
)

type revocationsRepo struct {
	db dbtx
}

func (r *revocationsRepo) CreateRevocation(ctx context.Context, e domain.RevocationEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx, createRevocation,
		e.Fingerprint,
		toMillis(e.ExpiresAt),
		string(e.Reason),
		toMillis(e.RecordedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *revocationsRepo) GetRevocation(ctx context.Context, fingerprint string) (domain.RevocationEntry, error) {
	var (
		e                     domain.RevocationEntry
		reason                string
		expiresAt, recordedAt int64
	)
	err := r.db.QueryRowContext(ctx, getRevocation, fingerprint).
		Scan(&e.Fingerprint, &expiresAt, &reason, &recordedAt)
	if err != nil {
		return domain.RevocationEntry{}, mapNotFound(err)
	}
	e.ExpiresAt = fromMillis(expiresAt)
	e.Reason = domain.RevocationReason(reason)
	e.RecordedAt = fromMillis(recordedAt)
	return e, nil
}

func (r *revocationsRepo) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredRevocations, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
