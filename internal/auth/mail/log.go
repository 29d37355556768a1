package mail

import (
	"context"
	"log/slog"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

// LogMailer writes a line per message instead of sending it. Meant for
// local development; the token itself is redacted.
type LogMailer struct {
	BaseURL string
}

func (m LogMailer) Send(ctx context.Context, to string, tpl Template, rawToken string) error {
	if _, err := Render(tpl, m.BaseURL, rawToken, 0); err != nil {
		return err
	}
	metrics.MailSent.WithLabelValues(string(tpl), "logged").Inc()
	slogx.FromContext(ctx).Info("email not sent (log mailer)",
		slog.String("to", to),
		slog.String("template", string(tpl)),
		slogx.Token("token", rawToken),
	)
	return nil
}
