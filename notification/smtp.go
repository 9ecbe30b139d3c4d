package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"

	"lead-relay/config"
)

// SMTPTransport renders the message with github.com/jordan-wright/email and
// speaks SMTP through net/smtp over a connection bound to the send context,
// so a stalled server cannot outlive Send.
type SMTPTransport struct {
	config *config.Config
	logger *zap.Logger
	dial   dialFunc
}

func NewSMTPTransport(cfg *config.Config, logger *zap.Logger) *SMTPTransport {
	return &SMTPTransport{
		config: cfg,
		logger: logger,
		dial:   (&net.Dialer{}).DialContext,
	}
}

func (s *SMTPTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := msg.check(); err != nil {
		return nil, err
	}

	e := email.NewEmail()
	e.From = msg.From()
	e.To = msg.To
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)

	raw, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	if s.config.SMTP.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SMTP.Timeout.Std())
		defer cancel()
	}

	res, err := s.deliver(ctx, envelopeSender(s.config, msg), msg.To, raw)
	if err != nil {
		if isTemporary(err) {
			s.logger.Warn("temporary smtp failure", zap.Error(err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to send email: %w: %w", ctxErr, err)
		}
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Debug("smtp delivery complete",
		zap.String("driver", config.DriverJordan),
		zap.Strings("accepted", res.Accepted),
		zap.Strings("rejected", res.Rejected))

	return res, nil
}

func (s *SMTPTransport) deliver(ctx context.Context, from string, to []string, raw []byte) (*Result, error) {
	tlsConfig := &tls.Config{
		ServerName:         s.config.SMTP.Host,
		InsecureSkipVerify: s.config.SMTP.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	var implicit *tls.Config
	if s.config.SMTPSecure() {
		implicit = tlsConfig
	}
	conn, err := sessionDialer(ctx, s.dial, implicit)(ctx, "tcp", s.config.SMTPAddr())
	if err != nil {
		return nil, err
	}

	c, err := smtp.NewClient(conn, s.config.SMTP.Host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer c.Close()

	if implicit == nil {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return nil, err
			}
		}
	}

	if s.config.SMTP.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.config.SMTP.Username, s.config.SMTP.Password, s.config.SMTP.Host)
			if err := c.Auth(auth); err != nil {
				return nil, err
			}
		}
	}

	res, err := deliver(c, from, to, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit failed", zap.Error(err))
	}
	return res, nil
}
