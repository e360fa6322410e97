package mailer

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
)

type Mailer interface {
	Send(to, subject, html string) error
}

type SMTPConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	SkipTLSVerify bool
}

type smtpMailer struct {
	from   string
	dialer *mail.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) Mailer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &smtpMailer{from: cfg.From, dialer: d}
}

func (m *smtpMailer) Send(to, subject, html string) error {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
