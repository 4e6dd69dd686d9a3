// Package mailer delivers transactional mail (invitations). Delivery
// failures are the caller's problem to classify; nothing here retries.
package mailer

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type SMTP struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTP(host string, port int, username, password, from string) *SMTP {
	return &SMTP{dialer: gomail.NewDialer(host, port, username, password), from: from}
}

func (s *SMTP) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Fake captures outbound mail for tests.
type Fake struct {
	Sent []FakeMail
	Err  error
}

type FakeMail struct {
	To      string
	Subject string
	Body    string
}

func (f *Fake) Send(_ context.Context, to, subject, htmlBody string) error {
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, FakeMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}
