package mailer

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"propertybridge/utils"
)

// ErrNoRelay is returned by New when no SMTP host is configured.
var ErrNoRelay = errors.New("mailer: smtp host is required")

// Config for the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTP sends HTML mail through a relay.
type SMTP struct {
	deliver func(m ...*gomail.Message) error
	logger  *utils.Logger
}

// New creates an SMTP mailer. Connections are opened per message.
func New(cfg Config, logger *utils.Logger) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, ErrNoRelay
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	logger.Info("[mailer] relay %s:%d", cfg.Host, cfg.Port)
	return &SMTP{deliver: d.DialAndSend, logger: logger}, nil
}

// Send delivers one HTML message. The relay call itself cannot be
// cancelled, so ctx is only checked before dialing.
func (s *SMTP) Send(ctx context.Context, from, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	if err := s.deliver(m); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}
	s.logger.Debug("[mailer] sent %q to %s", subject, to)
	return nil
}
