package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/domain"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/cryptox"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig is everything TokenService needs at startup.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      []string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// TokenService issues and verifies the signed access and refresh tokens.
// It performs no I/O. Access and refresh tokens use different secrets so
// one kind can never pass for the other.
type TokenService struct {
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time

	accessSigner    *jwtx.HS256Signer
	refreshSigner   *jwtx.HS256Signer
	accessVerifier  *jwtx.HS256Verifier
	refreshVerifier *jwtx.HS256Verifier
}

// NewTokenService validates cfg and builds the signers. Any problem with the
// secrets is an ErrConfiguration; the process is expected to refuse to start.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrConfiguration)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfiguration)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = jwtx.DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = jwtx.DefaultRefreshTokenTTL
	}

	s := &TokenService{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Now:        cfg.Now,
	}

	var err error
	if s.accessSigner, err = jwtx.NewSignerHS256(cfg.AccessSecret); err != nil {
		return nil, fmt.Errorf("%w: access secret: %w", ErrConfiguration, err)
	}
	if s.refreshSigner, err = jwtx.NewSignerHS256(cfg.RefreshSecret); err != nil {
		return nil, fmt.Errorf("%w: refresh secret: %w", ErrConfiguration, err)
	}

	opts := jwtx.VerifyOptions{Issuer: cfg.Issuer, Audience: cfg.Audience, Now: s.now}

	opts.TokenUse = jwtx.UseAccess
	if s.accessVerifier, err = jwtx.NewVerifierHS256(cfg.AccessSecret, opts); err != nil {
		return nil, fmt.Errorf("%w: access secret: %w", ErrConfiguration, err)
	}
	opts.TokenUse = jwtx.UseRefresh
	if s.refreshVerifier, err = jwtx.NewVerifierHS256(cfg.RefreshSecret, opts); err != nil {
		return nil, fmt.Errorf("%w: refresh secret: %w", ErrConfiguration, err)
	}

	return s, nil
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// issueTime is the current time cut to whole seconds. JWT dates have second
// precision, so this keeps exp exactly iat+ttl.
func (s *TokenService) issueTime() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// IssueAccessToken signs an access token for in. The timestamps of in are
// ignored and returned filled in.
func (s *TokenService) IssueAccessToken(in domain.AccessClaims) (string, domain.AccessClaims, error) {
	now := s.issueTime()

	claims := jwtx.NewAccessClaims(
		in.SubjectID,
		in.Email,
		in.Role.String(),
		in.IsEmailVerified,
		s.AccessTTL,
		s.Issuer,
		s.Audience,
		now,
	)

	token, err := s.accessSigner.Sign(claims)
	if err != nil {
		return "", domain.AccessClaims{}, err
	}
	metrics.TokensIssued.WithLabelValues(domain.TokenAccess.String()).Inc()

	in.IssuedAt = now
	in.ExpiresAt = now.Add(s.AccessTTL)
	return token, in, nil
}

// IssueRefreshToken signs a refresh token for subjectID with a fresh
// 128-bit token id.
func (s *TokenService) IssueRefreshToken(subjectID string) (string, domain.RefreshClaims, error) {
	now := s.issueTime()

	tokenID, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", domain.RefreshClaims{}, err
	}

	claims := jwtx.NewRefreshClaims(subjectID, tokenID, s.RefreshTTL, s.Issuer, s.Audience, now)
	token, err := s.refreshSigner.Sign(claims)
	if err != nil {
		return "", domain.RefreshClaims{}, err
	}
	metrics.TokensIssued.WithLabelValues(domain.TokenRefresh.String()).Inc()

	return token, domain.RefreshClaims{
		SubjectID: subjectID,
		TokenID:   tokenID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.RefreshTTL),
	}, nil
}

// IssuePair issues an access and a refresh token for acct.
func (s *TokenService) IssuePair(acct domain.Account) (domain.TokenPair, error) {
	access, ac, err := s.IssueAccessToken(domain.AccessClaims{
		SubjectID:       acct.ID,
		Email:           acct.Email,
		Role:            acct.Role,
		IsEmailVerified: acct.IsEmailVerified,
	})
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, rc, err := s.IssueRefreshToken(acct.ID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, nil
}

// Verify checks token as the given kind: structure, signature, issuer and
// audience, token_use, then expiry. Every failure wraps ErrInvalidToken;
// expiry is ErrTokenExpired.
func (s *TokenService) Verify(token string, kind domain.TokenKind) (*jwtx.Claims, error) {
	var v *jwtx.HS256Verifier
	switch kind {
	case domain.TokenAccess:
		v = s.accessVerifier
	case domain.TokenRefresh:
		v = s.refreshVerifier
	default:
		return nil, fmt.Errorf("%w: unknown token kind %d", ErrInvalidToken, kind)
	}

	claims, err := v.Verify(token)
	if err != nil {
		reason, wrapped := classifyVerifyError(err)
		metrics.TokensRejected.WithLabelValues(kind.String(), reason).Inc()
		return nil, wrapped
	}
	return claims, nil
}

// VerifyAccess verifies an access token and returns its identity claims.
func (s *TokenService) VerifyAccess(token string) (domain.AccessClaims, error) {
	c, err := s.Verify(token, domain.TokenAccess)
	if err != nil {
		return domain.AccessClaims{}, err
	}
	return domain.AccessClaims{
		SubjectID:       c.Subject,
		Email:           c.Email,
		Role:            domain.Role(c.Role),
		IsEmailVerified: c.IsEmailVerified,
		IssuedAt:        numericTime(c.IssuedAt),
		ExpiresAt:       numericTime(c.ExpiresAt),
	}, nil
}

// VerifyRefresh verifies a refresh token.
func (s *TokenService) VerifyRefresh(token string) (domain.RefreshClaims, error) {
	c, err := s.Verify(token, domain.TokenRefresh)
	if err != nil {
		return domain.RefreshClaims{}, err
	}
	return domain.RefreshClaims{
		SubjectID: c.Subject,
		TokenID:   c.ID,
		IssuedAt:  numericTime(c.IssuedAt),
		ExpiresAt: numericTime(c.ExpiresAt),
	}, nil
}

// Expiry returns the exp of a token signed by either secret without
// judging whether it has passed. Tokens whose signature does not check out
// are ErrInvalidToken.
func (s *TokenService) Expiry(token string) (time.Time, error) {
	c, err := s.accessVerifier.Parse(token)
	if err != nil {
		c, err = s.refreshVerifier.Parse(token)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: no exp claim", ErrInvalidToken)
	}
	return c.ExpiresAt.Time.UTC(), nil
}

// AccessVerifier exposes the access-token verifier for HTTP middleware.
func (s *TokenService) AccessVerifier() jwtx.Verifier {
	return s.accessVerifier
}

func classifyVerifyError(err error) (string, error) {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return "expired", fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwtx.ErrInvalidSig), errors.Is(err, jwtx.ErrAlgMismatch):
		return "signature", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case errors.Is(err, jwtx.ErrMalformed):
		return "malformed", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	default:
		return "claims", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}
