package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/service"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/jwtx"
)

// Secrets are the HMAC keys for the two token kinds.
type Secrets struct {
	Access  []byte
	Refresh []byte
}

// LoadSecrets resolves the access and refresh secrets. A *_FILE setting
// wins over the inline value so secrets can be mounted instead of exported.
//
// Both secrets must be present, at least jwtx.MinSecretLength bytes and
// different from each other; anything else is ErrConfiguration and the
// process must not start.
func LoadSecrets(cfg Config, logger *slog.Logger) (Secrets, error) {
	access, err := resolveSecret("AUTH_ACCESS_SECRET", cfg.AccessSecret, cfg.AccessSecretFile, logger)
	if err != nil {
		return Secrets{}, err
	}
	refresh, err := resolveSecret("AUTH_REFRESH_SECRET", cfg.RefreshSecret, cfg.RefreshSecretFile, logger)
	if err != nil {
		return Secrets{}, err
	}

	if string(access) == string(refresh) {
		return Secrets{}, fmt.Errorf("%w: AUTH_ACCESS_SECRET and AUTH_REFRESH_SECRET must differ", service.ErrConfiguration)
	}
	return Secrets{Access: access, Refresh: refresh}, nil
}

func resolveSecret(name, inline, file string, logger *slog.Logger) ([]byte, error) {
	secret := inline
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s_FILE: %w", service.ErrConfiguration, name, err)
		}
		secret = strings.TrimSpace(string(b))
		logger.Info("secret loaded from file", "name", name, "path", file)
	}

	switch {
	case secret == "":
		return nil, fmt.Errorf("%w: %s is required", service.ErrConfiguration, name)
	case len(secret) < jwtx.MinSecretLength:
		return nil, fmt.Errorf("%w: %s must be at least %d bytes", service.ErrConfiguration, name, jwtx.MinSecretLength)
	}
	return []byte(secret), nil
}
