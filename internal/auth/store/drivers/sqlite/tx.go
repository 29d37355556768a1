package sqlite

import (
	"context"
	"database/sql"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the outer Store owns the connection.
func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Accounts() store.Accounts                     { return &accountsRepo{db: t.tx} }
func (t *txStore) PendingAccounts() store.PendingAccounts       { return &pendingAccountsRepo{db: t.tx} }
func (t *txStore) VerificationTokens() store.VerificationTokens { return &verificationTokensRepo{db: t.tx} }
func (t *txStore) Revocations() store.Revocations               { return &revocationsRepo{db: t.tx} }

// ApplyMigrations is a no-op; migrations run before any transaction.
func (t *txStore) ApplyMigrations() error { return nil }
