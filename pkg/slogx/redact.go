package slogx

import "log/slog"

// redactKeep is how many characters of a secret survive on each side.
const redactKeep = 4

// Redact keeps a short prefix and suffix of a secret so two log lines can be
// correlated without the value being usable. Short values are fully masked.
func Redact(secret string) string {
	if len(secret) <= redactKeep*3 {
		return "[redacted]"
	}
	return secret[:redactKeep] + "..." + secret[len(secret)-redactKeep:]
}

// Token is a slog attribute for a raw token, always redacted.
func Token(key, raw string) slog.Attr {
	return slog.String(key, Redact(raw))
}
