// notify/notify.go

// Package notify emails the operator when a lifecycle cycle fails. A home
// server has no paging; a short mail is the difference between noticing a
// failed renewal now and noticing an expired certificate later.
// Notification failures are logged and swallowed, never failing the cycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/hearthd/certward/material"
)

// Config holds SMTP settings. An empty Host disables notification.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Mailer sends failure notifications over SMTP.
type Mailer struct {
	cfg    Config
	logger *zap.Logger

	// send is swappable in tests.
	send func(ctx context.Context, msg *mail.Msg) error
}

// New builds a Mailer. Host, From, and To are required.
func New(cfg Config, logger *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("notify: SMTP host is required")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, errors.New("notify: sender and recipient are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Mailer{cfg: cfg, logger: logger}
	m.send = m.smtpSend
	return m, nil
}

// CycleFailed emails a summary of the failed cycle. Errors are logged, not
// returned; the cycle outcome already carries the real failure.
func (m *Mailer) CycleFailed(ctx context.Context, ds material.DomainSet, cycleErr error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		m.logger.Warn("invalid notification sender", zap.Error(err))
		return
	}
	if err := msg.To(m.cfg.To); err != nil {
		m.logger.Warn("invalid notification recipient", zap.Error(err))
		return
	}
	msg.Subject(fmt.Sprintf("certificate cycle failed for %s", ds.Primary()))
	msg.SetBodyString(mail.TypeTextPlain, m.body(ds, cycleErr))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := m.send(ctx, msg); err != nil {
		m.logger.Warn("failed to send failure notification",
			zap.String("domains", ds.String()),
			zap.Error(err))
		return
	}
	m.logger.Info("failure notification sent", zap.String("to", m.cfg.To))
}

func (m *Mailer) body(ds material.DomainSet, cycleErr error) string {
	return fmt.Sprintf(
		"The certificate lifecycle run for %s failed at %s.\n\nError:\n%v\n\n"+
			"Existing material, if any, was left untouched. The run will be retried "+
			"on the next scheduled invocation.\n",
		ds.String(), time.Now().Format(time.RFC1123), cycleErr)
}

func (m *Mailer) smtpSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{mail.WithPort(m.cfg.Port)}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
