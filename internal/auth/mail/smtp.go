package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

// ErrAuthUnsupported means credentials are configured but the server does
// not offer AUTH. Mail is not sent unauthenticated in that case.
var ErrAuthUnsupported = errors.New("mail: server does not offer AUTH")

type SMTPConfig struct {
	Addr          string
	User          string
	Password      string
	From          string
	UseTLS        bool
	Timeout       time.Duration
	SubjectPrefix string
}

// SMTPMailer sends through a plain SMTP relay, optionally over implicit TLS.
type SMTPMailer struct {
	cfg     SMTPConfig
	auth    smtp.Auth
	baseURL string
	ttls    map[Template]time.Duration
}

// NewSMTPMailer builds a mailer whose links point at baseURL. ttls feeds the
// expiry sentence of each template.
func NewSMTPMailer(cfg SMTPConfig, baseURL string, ttls map[Template]time.Duration) *SMTPMailer {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host(cfg.Addr))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SMTPMailer{cfg: cfg, auth: auth, baseURL: baseURL, ttls: ttls}
}

func (m *SMTPMailer) Send(ctx context.Context, to string, tpl Template, rawToken string) error {
	msg, err := Render(tpl, m.baseURL, rawToken, m.ttls[tpl])
	if err != nil {
		return err
	}

	log := slogx.FromContext(ctx).With(
		slog.String("smtp_addr", m.cfg.Addr),
		slog.String("template", string(tpl)),
		slog.Bool("tls", m.cfg.UseTLS),
	)

	start := time.Now()
	if err := m.deliver(ctx, to, msg); err != nil {
		metrics.MailSent.WithLabelValues(string(tpl), "error").Inc()
		log.Error("email delivery failed", slog.Any("err", err))
		return err
	}
	metrics.MailSent.WithLabelValues(string(tpl), "ok").Inc()
	log.Info("email sent", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *SMTPMailer) deliver(ctx context.Context, to string, msg Message) error {
	subject := strings.TrimSpace(m.cfg.SubjectPrefix + " " + msg.Subject)
	data := []byte(
		"From: " + m.cfg.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + msg.Body + "\r\n")

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mail: dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if m.cfg.UseTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: host(m.cfg.Addr), MinVersion: tls.VersionTLS12})
	}

	c, err := smtp.NewClient(conn, host(m.cfg.Addr))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mail: smtp client: %w", err)
	}
	defer func() { _ = c.Close() }()

	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return ErrAuthUnsupported
		}
		if err := c.Auth(m.auth); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("mail: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("mail: RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("mail: DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("mail: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: close data: %w", err)
	}
	return c.Quit()
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
