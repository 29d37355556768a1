package sqlite

import (
	"context"
	"database/sql"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so every repo can run
// against the pool or an open transaction.
type dbtx interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

const accountColumns = `id, username, email, password_hash, role, is_email_verified, created_at, updated_at`

const (
	createAccount = `
INSERT INTO accounts (` + accountColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	getAccountByID = `
SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	getAccountByEmail = `
SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`

	countAccountsByUsername = `
SELECT COUNT(*) FROM accounts WHERE username = ?`

	updateAccountPasswordHash = `
UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`
)

const pendingColumns = `id, username, email, password_hash, role, verification_expires_at, created_at`

const (
	upsertPendingAccount = `
INSERT INTO pending_accounts (` + pendingColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (email) DO UPDATE SET
    id                      = excluded.id,
    username                = excluded.username,
    password_hash           = excluded.password_hash,
    role                    = excluded.role,
    verification_expires_at = excluded.verification_expires_at,
    created_at              = excluded.created_at`

	getPendingAccountByEmail = `
SELECT ` + pendingColumns + ` FROM pending_accounts WHERE email = ?`

	getPendingAccountByUsername = `
SELECT ` + pendingColumns + ` FROM pending_accounts
WHERE username = ?
ORDER BY created_at DESC
LIMIT 1`

	deletePendingAccount = `
DELETE FROM pending_accounts WHERE id = ?`

	deleteExpiredPendingAccounts = `
DELETE FROM pending_accounts WHERE verification_expires_at <= ?`
)

const verificationColumns = `id, owner_email, token_hash, purpose, expires_at, used, used_at, created_at`

const (
	upsertVerificationToken = `
INSERT INTO verification_tokens (` + verificationColumns + `)
VALUES (?, ?, ?, ?, ?, 0, NULL, ?)
ON CONFLICT (owner_email, purpose) DO UPDATE SET
    id         = excluded.id,
    token_hash = excluded.token_hash,
    expires_at = excluded.expires_at,
    used       = 0,
    used_at    = NULL,
    created_at = excluded.created_at`

	getVerificationTokenByHash = `
SELECT ` + verificationColumns + ` FROM verification_tokens
WHERE token_hash = ? AND purpose = ?`

	// Compare-and-swap: only the first redeemer matches used = 0.
	markVerificationTokenUsed = `
UPDATE verification_tokens SET used = 1, used_at = ?
WHERE id = ? AND used = 0`

	deleteExpiredVerificationTokens = `
DELETE FROM verification_tokens WHERE expires_at <= ?`
)

const (
	createRevocation = `
INSERT INTO revocations (fingerprint, expires_at, reason, recorded_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (fingerprint) DO NOTHING`

	getRevocation = `
SELECT fingerprint, expires_at, reason, recorded_at FROM revocations
WHERE fingerprint = ?`

	deleteExpiredRevocations = `
DELETE FROM revocations WHERE expires_at <= ?`
)
