package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/service"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store/drivers/sqlite"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestIssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	raw, tok, err := e.verification.Issue(ctx, " Alice@Uni.Example ", domain.PurposeEmailVerification)
	require.NoError(t, err)
	require.Len(t, raw, 43)
	require.Equal(t, "alice@uni.example", tok.OwnerEmail)
	require.Equal(t, cryptox.FingerprintToken(raw), tok.TokenHash)
	require.NotEqual(t, raw, tok.TokenHash)
	require.True(t, tok.ExpiresAt.Equal(t0.Add(24*time.Hour)))

	got, err := e.verification.Redeem(ctx, raw, domain.PurposeEmailVerification)
	require.NoError(t, err)
	require.True(t, got.Used)
	require.Equal(t, tok.ID, got.ID)

	_, err = e.verification.Redeem(ctx, raw, domain.PurposeEmailVerification)
	require.ErrorIs(t, err, service.ErrTokenAlreadyUsed)
	require.ErrorIs(t, err, service.ErrRedemptionFailed)
}

func TestRedeemFailures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	raw, _, err := e.verification.Issue(ctx, "bob@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)

	t.Run("unknown token", func(t *testing.T) {
		_, err := e.verification.Redeem(ctx, "nope", domain.PurposePasswordReset)
		require.ErrorIs(t, err, service.ErrTokenNotFound)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := e.verification.Redeem(ctx, "", domain.PurposePasswordReset)
		require.ErrorIs(t, err, service.ErrTokenNotFound)
	})

	t.Run("wrong purpose", func(t *testing.T) {
		_, err := e.verification.Redeem(ctx, raw, domain.PurposeEmailVerification)
		require.ErrorIs(t, err, service.ErrTokenNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		e.clock.Advance(10 * time.Minute)
		_, err := e.verification.Redeem(ctx, raw, domain.PurposePasswordReset)
		require.ErrorIs(t, err, service.ErrTokenExpired)
		require.Equal(t, "invalid or expired token", service.PublicMessage(err))
	})

	t.Run("unknown purpose", func(t *testing.T) {
		_, _, err := e.verification.Issue(ctx, "bob@uni.example", domain.Purpose("welcome"))
		require.ErrorIs(t, err, service.ErrInvalidInput)
	})
}

func TestReissueSupersedes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first, _, err := e.verification.Issue(ctx, "carol@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)

	e.clock.Advance(time.Minute)
	second, _, err := e.verification.Issue(ctx, "carol@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)

	_, err = e.verification.Redeem(ctx, first, domain.PurposePasswordReset)
	require.ErrorIs(t, err, service.ErrTokenNotFound)

	_, err = e.verification.Redeem(ctx, second, domain.PurposePasswordReset)
	require.NoError(t, err)
}

func TestPurposesAreIndependent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	verify, _, err := e.verification.Issue(ctx, "dan@uni.example", domain.PurposeEmailVerification)
	require.NoError(t, err)
	_, _, err = e.verification.Issue(ctx, "dan@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)

	_, err = e.verification.Redeem(ctx, verify, domain.PurposeEmailVerification)
	require.NoError(t, err)
}

func TestConcurrentRedeemExactlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	raw, _, err := e.verification.Issue(ctx, "erin@uni.example", domain.PurposeEmailVerification)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		usedErrs atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.verification.Redeem(ctx, raw, domain.PurposeEmailVerification)
			switch {
			case err == nil:
				wins.Add(1)
			case service.PublicMessage(err) == "invalid or expired token":
				usedErrs.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, 19, usedErrs.Load())
}

func TestIssueThrottle(t *testing.T) {
	ctx := context.Background()
	c := newClock(t0)
	v := service.NewVerificationService(newTestStore(t), service.VerificationConfig{
		IssueInterval: 30 * time.Second,
		IssueBurst:    3,
	})
	v.Now = c.Now

	for range 3 {
		_, _, err := v.Issue(ctx, "frank@uni.example", domain.PurposePasswordReset)
		require.NoError(t, err)
	}
	_, _, err := v.Issue(ctx, "frank@uni.example", domain.PurposePasswordReset)
	require.ErrorIs(t, err, service.ErrIssueThrottled)

	// Other owners and purposes have their own budget.
	_, _, err = v.Issue(ctx, "grace@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)
	_, _, err = v.Issue(ctx, "frank@uni.example", domain.PurposeEmailVerification)
	require.NoError(t, err)

	c.Advance(30 * time.Second)
	_, _, err = v.Issue(ctx, "frank@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)

	c.Advance(5 * time.Minute)
	require.Equal(t, 3, v.PruneLimiters())
}

func TestIssueTxRefundOnRollback(t *testing.T) {
	ctx := context.Background()
	c := newClock(t0)
	st := newTestStore(t)
	v := service.NewVerificationService(st, service.VerificationConfig{
		IssueInterval: 30 * time.Second,
		IssueBurst:    3,
	})
	v.Now = c.Now

	rollback := errors.New("rollback")
	for range 5 {
		var refund func()
		err := st.WithTx(ctx, func(tx store.Tx) error {
			var err error
			_, _, refund, err = v.IssueTx(ctx, tx, "hana@uni.example", domain.PurposeEmailVerification)
			require.NoError(t, err)
			return rollback
		})
		require.ErrorIs(t, err, rollback)
		refund()
		refund()
	}

	// Rolled back issues left the whole burst available.
	for range 3 {
		_, _, err := v.Issue(ctx, "hana@uni.example", domain.PurposeEmailVerification)
		require.NoError(t, err)
	}
	_, _, err := v.Issue(ctx, "hana@uni.example", domain.PurposeEmailVerification)
	require.ErrorIs(t, err, service.ErrIssueThrottled)
}

func TestIssueStorageFailureKeepsBudget(t *testing.T) {
	ctx := context.Background()
	c := newClock(t0)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v := service.NewVerificationService(sqlite.NewStoreFromDB(db, "mock"), service.VerificationConfig{
		IssueInterval: time.Minute,
		IssueBurst:    1,
	})
	v.Now = c.Now

	mock.ExpectExec("INSERT INTO verification_tokens").WillReturnError(errors.New("disk I/O error"))
	_, _, err = v.Issue(ctx, "ivan@uni.example", domain.PurposePasswordReset)
	require.ErrorIs(t, err, service.ErrStorageUnavailable)

	mock.ExpectExec("INSERT INTO verification_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	_, _, err = v.Issue(ctx, "ivan@uni.example", domain.PurposePasswordReset)
	require.NoError(t, err)

	_, _, err = v.Issue(ctx, "ivan@uni.example", domain.PurposePasswordReset)
	require.ErrorIs(t, err, service.ErrIssueThrottled)
	require.NoError(t, mock.ExpectationsWereMet())
}
