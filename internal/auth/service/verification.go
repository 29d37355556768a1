package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/idx"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
	"golang.org/x/time/rate"
)

const (
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = 10 * time.Minute

	DefaultIssueInterval = 30 * time.Second
	DefaultIssueBurst    = 3
)

// VerificationConfig tunes token lifetimes and issue throttling. Zero
// values take the defaults; a negative IssueInterval disables throttling.
type VerificationConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	IssueInterval        time.Duration
	IssueBurst           int
}

// VerificationService owns the single-use emailed tokens: issue, redeem and
// the per-owner throttle. Only fingerprints of raw tokens are persisted.
type VerificationService struct {
	Store store.Store
	Now   func() time.Time

	emailTTL time.Duration
	resetTTL time.Duration

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewVerificationService(st store.Store, cfg VerificationConfig) *VerificationService {
	if cfg.EmailVerificationTTL <= 0 {
		cfg.EmailVerificationTTL = DefaultEmailVerificationTTL
	}
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = DefaultPasswordResetTTL
	}
	if cfg.IssueInterval == 0 {
		cfg.IssueInterval = DefaultIssueInterval
	}
	if cfg.IssueBurst <= 0 {
		cfg.IssueBurst = DefaultIssueBurst
	}

	limit := rate.Inf
	if cfg.IssueInterval > 0 {
		limit = rate.Every(cfg.IssueInterval)
	}

	return &VerificationService{
		Store:    st,
		emailTTL: cfg.EmailVerificationTTL,
		resetTTL: cfg.PasswordResetTTL,
		limit:    limit,
		burst:    cfg.IssueBurst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *VerificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// TTL is the lifetime of a newly issued token for purpose.
func (s *VerificationService) TTL(purpose domain.Purpose) time.Duration {
	if purpose == domain.PurposePasswordReset {
		return s.resetTTL
	}
	return s.emailTTL
}

// Issue creates a token for (email, purpose), superseding any earlier one,
// and returns the raw value for delivery. A failed issue does not count
// against the owner's throttle.
func (s *VerificationService) Issue(ctx context.Context, email string, purpose domain.Purpose) (string, domain.VerificationToken, error) {
	raw, tok, _, err := s.issue(ctx, s.Store.VerificationTokens(), email, purpose)
	return raw, tok, err
}

// IssueTx is Issue inside the caller's transaction. The returned refund
// gives the throttle slot back and must be called if tx does not commit.
// It is never nil.
func (s *VerificationService) IssueTx(ctx context.Context, tx store.Tx, email string, purpose domain.Purpose) (raw string, tok domain.VerificationToken, refund func(), err error) {
	return s.issue(ctx, tx.VerificationTokens(), email, purpose)
}

func noRefund() {}

func (s *VerificationService) issue(ctx context.Context, repo store.VerificationTokens, email string, purpose domain.Purpose) (string, domain.VerificationToken, func(), error) {
	if !purpose.Valid() {
		return "", domain.VerificationToken{}, noRefund, fmt.Errorf("%w: unknown purpose %q", ErrInvalidInput, purpose)
	}
	email = NormalizeEmail(email)
	if email == "" {
		return "", domain.VerificationToken{}, noRefund, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	now := s.now()
	refund, ok := s.reserve(email, purpose, now)
	if !ok {
		return "", domain.VerificationToken{}, noRefund, ErrIssueThrottled
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		refund()
		return "", domain.VerificationToken{}, noRefund, fmt.Errorf("generate token: %w", err)
	}

	tok := domain.VerificationToken{
		ID:         idx.NewAt(now).String(),
		OwnerEmail: email,
		TokenHash:  cryptox.FingerprintToken(raw),
		Purpose:    purpose,
		ExpiresAt:  now.Add(s.TTL(purpose)),
		CreatedAt:  now,
	}
	if err := repo.UpsertVerificationToken(ctx, tok); err != nil {
		refund()
		return "", domain.VerificationToken{}, noRefund, storageErr("store verification token", err)
	}

	metrics.VerificationIssued.WithLabelValues(string(purpose)).Inc()
	slogx.FromContext(ctx).Info("verification token issued",
		slog.String("purpose", string(purpose)),
		slogx.Token("token", raw),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	return raw, tok, refund, nil
}

// Redeem consumes raw for purpose. It succeeds at most once per issued
// token, even under concurrent calls. Failures are ErrTokenNotFound,
// ErrTokenAlreadyUsed or ErrTokenExpired, all of which wrap
// ErrRedemptionFailed.
func (s *VerificationService) Redeem(ctx context.Context, raw string, purpose domain.Purpose) (domain.VerificationToken, error) {
	return s.redeem(ctx, s.Store.VerificationTokens(), raw, purpose)
}

// RedeemTx is Redeem inside the caller's transaction, so the token is only
// spent if the rest of the transaction commits.
func (s *VerificationService) RedeemTx(ctx context.Context, tx store.Tx, raw string, purpose domain.Purpose) (domain.VerificationToken, error) {
	return s.redeem(ctx, tx.VerificationTokens(), raw, purpose)
}

func (s *VerificationService) redeem(ctx context.Context, repo store.VerificationTokens, raw string, purpose domain.Purpose) (tok domain.VerificationToken, err error) {
	l := slogx.FromContext(ctx)
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrTokenNotFound):
			outcome = "not_found"
		case errors.Is(err, ErrTokenAlreadyUsed):
			outcome = "already_used"
		case errors.Is(err, ErrTokenExpired):
			outcome = "expired"
		case err != nil:
			outcome = "error"
		}
		metrics.VerificationRedeemed.WithLabelValues(string(purpose), outcome).Inc()
		if err != nil {
			l.Info("verification token rejected",
				slog.String("purpose", string(purpose)),
				slog.String("outcome", outcome),
				slogx.Token("token", raw),
			)
		}
	}()

	if raw == "" {
		return domain.VerificationToken{}, ErrTokenNotFound
	}

	tok, err = repo.GetVerificationTokenByHash(ctx, cryptox.FingerprintToken(raw), purpose)
	if errors.Is(err, store.ErrNotFound) {
		return domain.VerificationToken{}, ErrTokenNotFound
	}
	if err != nil {
		return domain.VerificationToken{}, storageErr("load verification token", err)
	}

	now := s.now()
	if tok.Used {
		return domain.VerificationToken{}, ErrTokenAlreadyUsed
	}
	if tok.Expired(now) {
		return domain.VerificationToken{}, ErrTokenExpired
	}

	won, err := repo.MarkVerificationTokenUsed(ctx, tok.ID, now)
	if err != nil {
		return domain.VerificationToken{}, storageErr("mark verification token used", err)
	}
	if !won {
		return domain.VerificationToken{}, ErrTokenAlreadyUsed
	}

	tok.Used = true
	tok.UsedAt = &now
	return tok, nil
}

// reserve takes one issue slot for (purpose, email) at now. The returned
// func puts the slot back; it must be called with no other reservation
// for the same owner in between to restore the full slot.
func (s *VerificationService) reserve(email string, purpose domain.Purpose, now time.Time) (func(), bool) {
	if s.limit == rate.Inf {
		return noRefund, true
	}
	key := string(purpose) + "|" + email

	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = lim
	}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return noRefund, false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return noRefund, false
	}

	var once sync.Once
	// Cancel at the reservation instant: x/time/rate restores nothing once
	// the reservation's act time has passed.
	return func() { once.Do(func() { r.CancelAt(now) }) }, true
}

// PruneLimiters forgets owners whose throttle has fully recovered and
// returns how many were dropped.
func (s *VerificationService) PruneLimiters() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, lim := range s.limiters {
		if lim.TokensAt(now) >= float64(s.burst) {
			delete(s.limiters, key)
			n++
		}
	}
	return n
}

// NormalizeEmail trims and lower-cases an address. Emails are compared in
// this form everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
