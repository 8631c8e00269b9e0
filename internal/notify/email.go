package notify

import (
	"context"

	gomail "gopkg.in/gomail.v2"
)

// SMTPEmailSender delivers plain-text mail through a configured SMTP relay.
type SMTPEmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPEmailSender(host string, port int, username, password, from string) *SMTPEmailSender {
	return &SMTPEmailSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPEmailSender) SendEmail(ctx context.Context, to, subject, body string) Result {
	if err := ctx.Err(); err != nil {
		return Failure(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return Failure(err)
	}
	return Success()
}
