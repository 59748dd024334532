package notification

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// MailNotifier delivers alerts over SMTP. Warnings go to the configured
// user addresses; crash reports go to the administrator only.
type MailNotifier struct {
	// Addr is the SMTP endpoint, e.g. "localhost:25". Delivery is
	// unauthenticated, relying on a local relay.
	Addr string

	// Source is the envelope sender.
	Source string

	// Admin receives critical alerts. Users receive warnings.
	Admin string
	Users []string

	// send is swapped out in tests.
	send func(addr, from string, to []string, msg []byte) error
}

// NewMailNotifier creates an SMTP notifier.
func NewMailNotifier(addr, source, admin string, users []string) *MailNotifier {
	return &MailNotifier{
		Addr:   addr,
		Source: source,
		Admin:  admin,
		Users:  users,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (m *MailNotifier) Send(ctx context.Context, alert Alert) error {
	to := m.Users
	if alert.Level == AlertCritical {
		to = []string{m.Admin}
	}
	if len(to) == 0 {
		return fmt.Errorf("smtp: no recipients for level %s", alert.Level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.Source)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", alert.Title)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(alert.Message)
	b.WriteString("\r\n")

	if err := m.send(m.Addr, m.Source, to, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	log.Printf("[smtp] sent %q to %s", alert.Title, strings.Join(to, ", "))
	return nil
}
