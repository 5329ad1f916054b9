package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Sender sends a prepared message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// AddressFunc returns the mail address of a namespace owner.
type AddressFunc func(ctx context.Context, namespace string) (string, bool)

// Mail sends a copy of sticky notifications (expiration reminders) by
// e-mail. Transient alerts are not mailed.
type Mail struct {
	Sender  Sender
	From    string
	AppURL  string
	Address AddressFunc
}

// NewMailDialer builds an SMTP dialer.
func NewMailDialer(host string, port int, username, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, username, password)
}

// Supported reports whether an SMTP sender is configured.
func (m *Mail) Supported() bool {
	return m != nil && m.Sender != nil && m.Address != nil
}

// RequestPermission reports whether the owner has a mail address.
func (m *Mail) RequestPermission(ctx context.Context, namespace string) bool {
	if !m.Supported() {
		return false
	}
	_, ok := m.Address(ctx, namespace)
	return ok
}

// Show mails n when it requires interaction.
func (m *Mail) Show(ctx context.Context, namespace string, n Notification) *Handle {
	if !m.Supported() || !n.RequireInteraction {
		return nil
	}
	to, ok := m.Address(ctx, namespace)
	if !ok {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", n.Title)
	msg.SetBody("text/html", mailBody(n, m.AppURL))

	if err := m.Sender.DialAndSend(msg); err != nil {
		slog.Warn("sending notification mail", "namespace", namespace, "tag", n.Tag, "error", err)
		return nil
	}
	return newHandle(n.ID, nil)
}

func mailBody(n Notification, appURL string) string {
	body := fmt.Sprintf("<p>%s</p>", html.EscapeString(n.Body))
	if appURL != "" {
		body += fmt.Sprintf(`<p><a href="%s">Open your pantry</a></p>`, html.EscapeString(appURL))
	}
	return body
}
