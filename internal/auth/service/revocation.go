package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

// RevocationService is the deny list for signed tokens that must stop
// working before they expire. Tokens are remembered by fingerprint until
// their own exp, after which signature verification rejects them anyway.
//
// Entries live in an in-process cache in front of a persistent
// store.Revocations. Lookups fail open: when the store cannot be reached a
// token that is not in the cache is treated as not revoked.
type RevocationService struct {
	Store  store.Revocations
	Tokens *TokenService
	Now    func() time.Time

	mu    sync.RWMutex
	cache map[string]time.Time // fingerprint -> expires at
}

func NewRevocationService(revocations store.Revocations, tokens *TokenService) *RevocationService {
	return &RevocationService{
		Store:  revocations,
		Tokens: tokens,
		cache:  make(map[string]time.Time),
	}
}

func (s *RevocationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Revoke makes token unusable until it expires. Revoking an expired token is
// a no-op. A token whose signature does not verify is ErrInvalidToken.
//
// The cache is written before the store, so the calling process honours the
// revocation even when persisting fails; that failure is still returned,
// wrapped in ErrStorageUnavailable.
func (s *RevocationService) Revoke(ctx context.Context, token string, reason domain.RevocationReason) error {
	exp, err := s.Tokens.Expiry(token)
	if err != nil {
		return err
	}
	now := s.now()
	if !now.Before(exp) {
		return nil
	}

	fp := cryptox.FingerprintToken(token)
	s.remember(fp, exp)

	_, err = s.record(ctx, fp, exp, reason, now)
	return err
}

// RevokeFirst revokes token for exactly one caller: the one whose call put
// it on the deny list. Every later caller, in this process or another one
// sharing the store, gets ErrTokenRevoked. An expired token is
// ErrTokenExpired. A storage failure is returned and leaves the token usable.
func (s *RevocationService) RevokeFirst(ctx context.Context, token string, reason domain.RevocationReason) error {
	exp, err := s.Tokens.Expiry(token)
	if err != nil {
		return err
	}
	now := s.now()
	if !now.Before(exp) {
		return ErrTokenExpired
	}

	fp := cryptox.FingerprintToken(token)
	if s.cached(fp, now) {
		return ErrTokenRevoked
	}

	inserted, err := s.record(ctx, fp, exp, reason, now)
	if err != nil {
		return err
	}
	s.remember(fp, exp)
	if !inserted {
		return ErrTokenRevoked
	}
	return nil
}

// record persists one revocation and reports whether this call inserted it.
func (s *RevocationService) record(ctx context.Context, fp string, exp time.Time, reason domain.RevocationReason, now time.Time) (bool, error) {
	l := slogx.FromContext(ctx)

	inserted, err := s.Store.CreateRevocation(ctx, domain.RevocationEntry{
		Fingerprint: fp,
		ExpiresAt:   exp,
		Reason:      reason,
		RecordedAt:  now,
	})
	if err != nil {
		metrics.RevocationStoreErrors.WithLabelValues("create").Inc()
		l.Error("failed to persist revocation",
			slog.String("fingerprint", slogx.Redact(fp)),
			slog.Any("err", err),
		)
		return false, storageErr("persist revocation", err)
	}
	if !inserted {
		return false, nil
	}

	metrics.Revocations.WithLabelValues(string(reason)).Inc()
	l.Debug("token revoked",
		slog.String("reason", string(reason)),
		slog.Time("expires_at", exp),
	)
	return true, nil
}

func (s *RevocationService) remember(fp string, exp time.Time) {
	s.mu.Lock()
	s.cache[fp] = exp
	s.mu.Unlock()
}

func (s *RevocationService) cached(fp string, now time.Time) bool {
	s.mu.RLock()
	exp, ok := s.cache[fp]
	s.mu.RUnlock()
	return ok && now.Before(exp)
}

// IsRevoked reports whether token is on the deny list right now.
func (s *RevocationService) IsRevoked(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	now := s.now()
	fp := cryptox.FingerprintToken(token)

	s.mu.RLock()
	exp, hit := s.cache[fp]
	s.mu.RUnlock()

	if hit {
		if now.Before(exp) {
			return true
		}
		s.forget(fp, exp)
		return false
	}

	entry, err := s.Store.GetRevocation(ctx, fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false
	case err != nil:
		metrics.RevocationStoreErrors.WithLabelValues("lookup").Inc()
		slogx.FromContext(ctx).Warn("revocation lookup failed, treating token as not revoked",
			slog.Any("err", err),
		)
		return false
	}

	if !now.Before(entry.ExpiresAt) {
		return false
	}

	// Another process revoked it; remember locally.
	s.remember(fp, entry.ExpiresAt)
	return true
}

// forget drops an expired cache entry unless it was replaced meanwhile.
func (s *RevocationService) forget(fp string, exp time.Time) {
	s.mu.Lock()
	if cur, ok := s.cache[fp]; ok && cur.Equal(exp) {
		delete(s.cache, fp)
	}
	s.mu.Unlock()
}

// Sweep removes expired entries from the cache and the store and returns
// how many rows the store dropped.
func (s *RevocationService) Sweep(ctx context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	for fp, exp := range s.cache {
		if !now.Before(exp) {
			delete(s.cache, fp)
		}
	}
	s.mu.Unlock()

	n, err := s.Store.DeleteExpiredRevocations(ctx, now)
	if err != nil {
		metrics.RevocationStoreErrors.WithLabelValues("sweep").Inc()
		return 0, fmt.Errorf("sweep revocations: %w", err)
	}
	return n, nil
}

// CacheSize reports how many fingerprints are held in memory.
func (s *RevocationService) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
