package provider

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPEmailSender delivers email through an SMTP relay via gomail.
type SMTPEmailSender struct {
	dialer      *gomail.Dialer
	defaultFrom string
}

func NewSMTPEmailSender(host string, port int, username, password, defaultFrom string) (*SMTPEmailSender, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if port <= 0 {
		port = 587
	}
	if strings.TrimSpace(defaultFrom) == "" {
		return nil, fmt.Errorf("default from address is required")
	}

	return &SMTPEmailSender{
		dialer:      gomail.NewDialer(host, port, username, password),
		defaultFrom: defaultFrom,
	}, nil
}

func (s *SMTPEmailSender) SendEmail(ctx context.Context, msg EmailMessage) (*Result, error) {
	if s == nil || s.dialer == nil {
		return nil, fmt.Errorf("email sender is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = s.defaultFrom
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	if subject := strings.TrimSpace(msg.Subject); subject != "" {
		m.SetHeader("Subject", subject)
	}
	m.SetBody("text/html", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return nil, &SendError{
			Message:   "smtp delivery failed",
			Transient: isTransientSMTPError(err),
			Cause:     err,
		}
	}

	return &Result{StatusCode: 250}, nil
}

// isTransientSMTPError treats 4xx SMTP replies and connection-level faults
// as retryable; 5xx replies are permanent rejections. gomail surfaces raw
// server replies as plain errors prefixed with the reply code.
func isTransientSMTPError(err error) bool {
	msg := strings.TrimSpace(err.Error())
	return !strings.HasPrefix(msg, "5")
}
