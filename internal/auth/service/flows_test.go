package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/mail"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/service"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func registerAndVerify(t *testing.T, e *env, username, email, password string) domain.Account {
	t.Helper()
	ctx := context.Background()

	e.mailer.On("Send", mock.Anything, email, mail.TemplateVerifyEmail, mock.Anything).Return(nil).Once()

	_, err := e.registration.Register(ctx, service.RegisterInput{Username: username, Email: email, Password: password})
	require.NoError(t, err)

	acct, err := e.registration.VerifyEmail(ctx, e.mailer.Last(mail.TemplateVerifyEmail))
	require.NoError(t, err)
	return acct
}

func TestRegisterVerifyScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.mailer.On("Send", mock.Anything, "a@x.com", mail.TemplateVerifyEmail, mock.Anything).Return(nil).Once()

	pending, err := e.registration.Register(ctx, service.RegisterInput{
		Username: "ada",
		Email:    "A@x.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.Equal(t, "a@x.com", pending.Email)
	require.Equal(t, domain.RoleStudent, pending.Role)
	require.True(t, pending.VerificationExpiresAt.Equal(t0.Add(24*time.Hour)))
	e.mailer.AssertExpectations(t)

	// No account exists until the email is confirmed.
	_, err = e.store.Accounts().GetAccountByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	t1 := e.mailer.Last(mail.TemplateVerifyEmail)
	require.NotEmpty(t, t1)

	e.clock.Advance(time.Hour)
	acct, err := e.registration.VerifyEmail(ctx, t1)
	require.NoError(t, err)
	require.True(t, acct.IsEmailVerified)
	require.Equal(t, "ada", acct.Username)

	_, err = e.store.PendingAccounts().GetPendingAccountByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = e.registration.VerifyEmail(ctx, t1)
	require.ErrorIs(t, err, service.ErrTokenAlreadyUsed)
	require.Equal(t, "invalid or expired token", service.PublicMessage(err))
}

func TestVerifyEmailFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.mailer.On("Send", mock.Anything, mock.Anything, mail.TemplateVerifyEmail, mock.Anything).Return(nil)

	_, err := e.registration.Register(ctx, service.RegisterInput{Username: "bea", Email: "bea@x.com", Password: "password123"})
	require.NoError(t, err)

	_, err = e.registration.VerifyEmail(ctx, "wrong-token")
	require.ErrorIs(t, err, service.ErrTokenNotFound)

	e.clock.Advance(24 * time.Hour)
	_, err = e.registration.VerifyEmail(ctx, e.mailer.Last(mail.TemplateVerifyEmail))
	require.ErrorIs(t, err, service.ErrTokenExpired)

	p, err := e.store.PendingAccounts().GetPendingAccountByEmail(ctx, "bea@x.com")
	require.NoError(t, err)
	require.Equal(t, "bea", p.Username)
}

func TestRegisterRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registerAndVerify(t, e, "carl", "carl@x.com", "password123")

	e.mailer.On("Send", mock.Anything, "dora@x.com", mail.TemplateVerifyEmail, mock.Anything).Return(nil)
	_, err := e.registration.Register(ctx, service.RegisterInput{Username: "dora", Email: "dora@x.com", Password: "password123"})
	require.NoError(t, err)

	cases := []struct {
		name string
		in   service.RegisterInput
		want error
	}{
		{"existing account", service.RegisterInput{Username: "carl2", Email: "CARL@x.com", Password: "password123"}, service.ErrAccountExists},
		{"username of an account", service.RegisterInput{Username: "carl", Email: "new@x.com", Password: "password123"}, service.ErrUsernameTaken},
		{"username of a live registration", service.RegisterInput{Username: "dora", Email: "other@x.com", Password: "password123"}, service.ErrUsernameTaken},
		{"short password", service.RegisterInput{Username: "eve", Email: "eve@x.com", Password: "short"}, service.ErrWeakPassword},
		{"bad email", service.RegisterInput{Username: "eve", Email: "not-an-email", Password: "password123"}, service.ErrInvalidInput},
		{"bad username", service.RegisterInput{Username: "e", Email: "eve@x.com", Password: "password123"}, service.ErrInvalidInput},
		{"admin role", service.RegisterInput{Username: "eve", Email: "eve@x.com", Password: "password123", Role: "admin"}, service.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.registration.Register(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestReregisterReplacesPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.mailer.On("Send", mock.Anything, "fay@x.com", mail.TemplateVerifyEmail, mock.Anything).Return(nil)

	_, err := e.registration.Register(ctx, service.RegisterInput{Username: "fay", Email: "fay@x.com", Password: "password123"})
	require.NoError(t, err)
	first := e.mailer.Last(mail.TemplateVerifyEmail)

	_, err = e.registration.Register(ctx, service.RegisterInput{Username: "fay2", Email: "fay@x.com", Password: "password123", Role: "lecturer"})
	require.NoError(t, err)
	second := e.mailer.Last(mail.TemplateVerifyEmail)

	_, err = e.registration.VerifyEmail(ctx, first)
	require.ErrorIs(t, err, service.ErrTokenNotFound)

	acct, err := e.registration.VerifyEmail(ctx, second)
	require.NoError(t, err)
	require.Equal(t, "fay2", acct.Username)
	require.Equal(t, domain.RoleLecturer, acct.Role)
}

func TestRegisterDeliveryFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.mailer.On("Send", mock.Anything, "gus@x.com", mail.TemplateVerifyEmail, mock.Anything).
		Return(errors.New("smtp: connection refused")).Once()

	_, err := e.registration.Register(ctx, service.RegisterInput{Username: "gus", Email: "gus@x.com", Password: "password123"})
	require.ErrorIs(t, err, service.ErrDeliveryFailed)

	_, err = e.store.PendingAccounts().GetPendingAccountByEmail(ctx, "gus@x.com")
	require.NoError(t, err)

	e.mailer.On("Send", mock.Anything, "gus@x.com", mail.TemplateVerifyEmail, mock.Anything).Return(nil).Once()
	require.NoError(t, e.registration.ResendVerification(ctx, "gus@x.com"))

	_, err = e.registration.VerifyEmail(ctx, e.mailer.Last(mail.TemplateVerifyEmail))
	require.NoError(t, err)

	// Nothing pending any more, so resend is a silent no-op.
	require.NoError(t, e.registration.ResendVerification(ctx, "gus@x.com"))
	e.mailer.AssertExpectations(t)
}

func TestPasswordResetExpiryScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registerAndVerify(t, e, "hal", "hal@x.com", "password123")

	e.mailer.On("Send", mock.Anything, "hal@x.com", mail.TemplateResetPassword, mock.Anything).Return(nil).Once()
	require.NoError(t, e.reset.RequestReset(ctx, "hal@x.com"))
	t2 := e.mailer.Last(mail.TemplateResetPassword)

	e.clock.Advance(11 * time.Minute)
	_, err := e.reset.ResetPassword(ctx, t2, "new-password-1")
	require.ErrorIs(t, err, service.ErrTokenExpired)

	// The old password still works.
	_, err = e.sessions.Login(ctx, "hal@x.com", "password123")
	require.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registerAndVerify(t, e, "ivy", "ivy@x.com", "password123")

	// Unknown addresses are not disclosed and nothing is sent.
	require.NoError(t, e.reset.RequestReset(ctx, "nobody@x.com"))

	e.mailer.On("Send", mock.Anything, "ivy@x.com", mail.TemplateResetPassword, mock.Anything).Return(nil).Once()
	require.NoError(t, e.reset.RequestReset(ctx, "IVY@x.com"))
	raw := e.mailer.Last(mail.TemplateResetPassword)

	_, err := e.reset.ResetPassword(ctx, raw, "short")
	require.ErrorIs(t, err, service.ErrWeakPassword)

	e.clock.Advance(5 * time.Minute)
	acct, err := e.reset.ResetPassword(ctx, raw, "brand-new-password")
	require.NoError(t, err)
	require.True(t, acct.UpdatedAt.Equal(t0.Add(5*time.Minute)))

	_, err = e.reset.ResetPassword(ctx, raw, "another-password")
	require.ErrorIs(t, err, service.ErrTokenAlreadyUsed)

	_, err = e.sessions.Login(ctx, "ivy@x.com", "password123")
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
	_, err = e.sessions.Login(ctx, "ivy@x.com", "brand-new-password")
	require.NoError(t, err)
	e.mailer.AssertExpectations(t)
}

func TestLoginLogoutScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	acct := registerAndVerify(t, e, "jon", "jon@x.com", "password123")

	pair, err := e.sessions.Login(ctx, "jon@x.com", "password123")
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)

	claims, err := e.sessions.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, acct.ID, claims.SubjectID)
	require.True(t, claims.IsEmailVerified)

	r1, err := e.tokens.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, r1.TokenID)

	require.NoError(t, e.sessions.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	// Structurally still valid, but on the deny list.
	_, err = e.tokens.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, e.revocations.IsRevoked(ctx, pair.RefreshToken))

	_, err = e.sessions.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenRevoked)
	_, err = e.sessions.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrTokenRevoked)
}

func TestLoginRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registerAndVerify(t, e, "kim", "kim@x.com", "password123")

	_, err := e.sessions.Login(ctx, "kim@x.com", "wrong-password")
	require.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = e.sessions.Login(ctx, "ghost@x.com", "password123")
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registerAndVerify(t, e, "lea", "lea@x.com", "password123")

	pair, err := e.sessions.Login(ctx, "lea@x.com", "password123")
	require.NoError(t, err)

	e.clock.Advance(20 * time.Minute)
	_, err = e.sessions.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrTokenExpired)

	next, err := e.sessions.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = e.sessions.Authenticate(ctx, next.AccessToken)
	require.NoError(t, err)

	_, err = e.sessions.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenRevoked)

	_, err = e.sessions.Refresh(ctx, next.AccessToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

// lookupBarrier holds revocation lookups until `parties` of them have run,
// so concurrent callers all see the token as live before any revokes it.
type lookupBarrier struct {
	store.Revocations

	parties int32
	seen    atomic.Int32
	release chan struct{}
}

func newLookupBarrier(inner store.Revocations, parties int32) *lookupBarrier {
	return &lookupBarrier{Revocations: inner, parties: parties, release: make(chan struct{})}
}

func (b *lookupBarrier) GetRevocation(ctx context.Context, fp string) (domain.RevocationEntry, error) {
	e, err := b.Revocations.GetRevocation(ctx, fp)
	if b.seen.Add(1) == b.parties {
		close(b.release)
	}
	select {
	case <-b.release:
	case <-time.After(5 * time.Second):
	}
	return e, err
}

func TestRefreshReplayAcrossInstances(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	registerAndVerify(t, e, "max", "max@x.com", "password123")

	pair, err := e.sessions.Login(ctx, "max@x.com", "password123")
	require.NoError(t, err)

	// Two processes: separate caches over one shared revocation store.
	barrier := newLookupBarrier(e.store.Revocations(), 2)
	instances := make([]*service.SessionService, 2)
	for i := range instances {
		rev := service.NewRevocationService(barrier, e.tokens)
		rev.Now = e.clock.Now
		instances[i] = &service.SessionService{Store: e.store, Tokens: e.tokens, Revocations: rev, Now: e.clock.Now}
	}

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		replayed atomic.Int32
	)
	for _, inst := range instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inst.Refresh(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, service.ErrTokenRevoked):
				replayed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, 1, replayed.Load())
}

func TestHousekeepingSweep(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	_, err := e.registration.Register(ctx, service.RegisterInput{Username: "max", Email: "max@x.com", Password: "password123"})
	require.NoError(t, err)

	access, _, err := e.tokens.IssueAccessToken(domain.AccessClaims{SubjectID: "u1"})
	require.NoError(t, err)
	require.NoError(t, e.revocations.Revoke(ctx, access, domain.ReasonLogout))

	hk := service.NewHousekeepingService(e.store, e.revocations, e.verification, slogx.Discard(), 0)
	hk.Now = e.clock.Now
	require.Equal(t, service.DefaultHousekeepingInterval, hk.Interval)

	deleted := hk.Sweep(ctx)
	require.Zero(t, deleted["revocations"])
	require.Zero(t, deleted["verification_tokens"])
	require.Zero(t, deleted["pending_accounts"])

	e.clock.Advance(25 * time.Hour)
	deleted = hk.Sweep(ctx)
	require.EqualValues(t, 1, deleted["revocations"])
	require.EqualValues(t, 1, deleted["verification_tokens"])
	require.EqualValues(t, 1, deleted["pending_accounts"])
}

func TestHousekeepingStartStop(t *testing.T) {
	e := newEnv(t)
	hk := service.NewHousekeepingService(e.store, e.revocations, e.verification, slogx.Discard(), 10*time.Millisecond)

	hk.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		hk.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
