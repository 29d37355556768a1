// Package redis keeps token revocations in Redis so every instance of the
// service sees the same deny list. Entries carry a TTL equal to the
// remaining lifetime of the token, so Redis does the sweeping.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "uis:revoked:"

// Revocations implements store.Revocations on a Redis client.
type Revocations struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.Revocations = (*Revocations)(nil)

type Option func(*Revocations)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(r *Revocations) { r.prefix = prefix }
}

// WithClock sets the clock used to compute TTLs.
func WithClock(now func() time.Time) Option {
	return func(r *Revocations) { r.now = now }
}

func NewRevocations(client redis.UniversalClient, opts ...Option) *Revocations {
	r := &Revocations{client: client, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// entry is the JSON value stored under each key.
type entry struct {
	ExpiresAt  int64  `json:"exp"`
	Reason     string `json:"reason"`
	RecordedAt int64  `json:"recorded_at"`
}

func (r *Revocations) key(fingerprint string) string {
	return r.prefix + fingerprint
}

// CreateRevocation stores e with SET NX so the first record wins. Entries
// that have already expired are not written at all.
func (r *Revocations) CreateRevocation(ctx context.Context, e domain.RevocationEntry) (bool, error) {
	ttl := e.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return false, nil
	}

	b, err := json.Marshal(entry{
		ExpiresAt:  e.ExpiresAt.UnixMilli(),
		Reason:     string(e.Reason),
		RecordedAt: e.RecordedAt.UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("redis revocations: encode: %w", err)
	}

	inserted, err := r.client.SetNX(ctx, r.key(e.Fingerprint), b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis revocations: set: %w", err)
	}
	return inserted, nil
}

func (r *Revocations) GetRevocation(ctx context.Context, fingerprint string) (domain.RevocationEntry, error) {
	b, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RevocationEntry{}, store.ErrNotFound
	}
	if err != nil {
		return domain.RevocationEntry{}, fmt.Errorf("redis revocations: get: %w", err)
	}

	var v entry
	if err := json.Unmarshal(b, &v); err != nil {
		return domain.RevocationEntry{}, fmt.Errorf("redis revocations: decode: %w", err)
	}
	return domain.RevocationEntry{
		Fingerprint: fingerprint,
		ExpiresAt:   time.UnixMilli(v.ExpiresAt).UTC(),
		Reason:      domain.RevocationReason(v.Reason),
		RecordedAt:  time.UnixMilli(v.RecordedAt).UTC(),
	}, nil
}

// DeleteExpiredRevocations is a no-op: keys expire through their TTL.
func (r *Revocations) DeleteExpiredRevocations(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping checks the connection.
func (r *Revocations) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
