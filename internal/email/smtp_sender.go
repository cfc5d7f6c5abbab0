package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	jemail "github.com/jordan-wright/email"
)

// SMTPSender envia correos via SMTP.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	useTLS   bool
	deliver  func(msg *jemail.Email) error
}

func NewSMTPSender(host string, port int, username, password, from, fromName string, useTLS bool) (*SMTPSender, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("smtp from is required")
	}
	if port == 0 {
		port = 587
	}
	s := &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
		useTLS:   useTLS,
	}
	s.deliver = s.send
	return s, nil
}

func (s *SMTPSender) SendVerificationEmail(ctx context.Context, toEmail, link string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"Welcome! Confirm your email address by opening the link below:\n\n%s\n\nThe link expires at %s UTC.\n",
		link,
		expiresAt.UTC().Format(time.RFC3339),
	)
	return s.dispatch(ctx, toEmail, "Verify your email", body)
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, toEmail, link string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"We received a request to reset your password. Open the link below to choose a new one:\n\n%s\n\nThe link expires at %s UTC. If you did not request this, you can ignore this email.\n",
		link,
		expiresAt.UTC().Format(time.RFC3339),
	)
	return s.dispatch(ctx, toEmail, "Reset your password", body)
}

func (s *SMTPSender) dispatch(ctx context.Context, toEmail, subject, body string) error {
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("to email is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.deliver(newMessage(s.from, s.fromName, toEmail, subject, body))
}

func (s *SMTPSender) send(msg *jemail.Email) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if s.useTLS {
		return msg.SendWithTLS(addr, auth, &tls.Config{ServerName: s.host})
	}
	return msg.Send(addr, auth)
}

func newMessage(from, fromName, to, subject, body string) *jemail.Email {
	msg := jemail.NewEmail()
	msg.From = from
	if strings.TrimSpace(fromName) != "" {
		msg.From = (&mail.Address{Name: fromName, Address: from}).String()
	}
	msg.To = []string{to}
	msg.Subject = subject
	msg.Text = []byte(body)
	return msg
}
