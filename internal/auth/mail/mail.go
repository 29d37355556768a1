// Package mail delivers the emailed single-use tokens: the verification
// link sent at registration and the password reset link.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Template selects the message sent with a token.
type Template string

const (
	TemplateVerifyEmail   Template = "verify_email"
	TemplateResetPassword Template = "reset_password"
)

// Mailer sends one templated message carrying rawToken to an address.
type Mailer interface {
	Send(ctx context.Context, to string, tpl Template, rawToken string) error
}

// Message is a rendered email.
type Message struct {
	Subject string
	Body    string
}

// Render builds the message for tpl. baseURL is the public portal address
// the links point at; ttl is only used for the expiry sentence.
func Render(tpl Template, baseURL, rawToken string, ttl time.Duration) (Message, error) {
	base := strings.TrimRight(baseURL, "/")
	q := url.Values{"token": {rawToken}}.Encode()

	switch tpl {
	case TemplateVerifyEmail:
		link := base + "/verify-email?" + q
		return Message{
			Subject: "Confirm your university portal account",
			Body: fmt.Sprintf(
				"Welcome to the university portal.\n\n"+
					"Confirm your email address by opening the link below:\n\n%s\n\n"+
					"The link expires in %s. If you did not register, ignore this message.\n",
				link, humanize(ttl)),
		}, nil
	case TemplateResetPassword:
		link := base + "/reset-password?" + q
		return Message{
			Subject: "Reset your university portal password",
			Body: fmt.Sprintf(
				"Someone asked to reset the password of your portal account.\n\n"+
					"Choose a new password here:\n\n%s\n\n"+
					"The link expires in %s and works once. If this was not you, ignore this message.\n",
				link, humanize(ttl)),
		}, nil
	default:
		return Message{}, fmt.Errorf("mail: unknown template %q", tpl)
	}
}

func humanize(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%(24*time.Hour) == 0:
		n := int(d / (24 * time.Hour))
		return plural(n, "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
