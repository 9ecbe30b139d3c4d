package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"lead-relay/config"
)

// MailTransport sends through github.com/wneessen/go-mail. go-mail builds
// the MIME message and runs the connection setup (EHLO, STARTTLS, AUTH);
// the transaction itself goes through deliver so the From header and the
// envelope are not re-parsed and each recipient gets its own verdict.
type MailTransport struct {
	config *config.Config
	logger *zap.Logger
	dial   dialFunc
}

func NewMailTransport(cfg *config.Config, logger *zap.Logger) *MailTransport {
	return &MailTransport{
		config: cfg,
		logger: logger,
		dial:   (&net.Dialer{}).DialContext,
	}
}

func (t *MailTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := msg.check(); err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	m.SetGenHeaderPreformatted(mail.Header(mail.HeaderFrom), msg.From())
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if t.config.SMTP.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.SMTP.Timeout.Std())
		defer cancel()
	}

	// go-mail leaves the connection open when EHLO, STARTTLS or AUTH fail.
	var conn net.Conn
	dial := t.dialer(ctx)
	tracked := func(dialCtx context.Context, network, address string) (net.Conn, error) {
		c, err := dial(dialCtx, network, address)
		if err == nil {
			conn = c
		}
		return c, err
	}

	c, err := mail.NewClient(t.config.SMTP.Host, append(t.options(), mail.WithDialContextFunc(tracked))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	client, err := c.DialToSMTPClientWithContext(ctx)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, t.fail(ctx, err)
	}
	defer func() {
		if err := c.CloseWithSMTPClient(client); err != nil {
			t.logger.Debug("smtp quit failed", zap.Error(err))
		}
	}()

	res, err := deliver(bracketed{client}, envelopeSender(t.config, msg), msg.To, m)
	if err != nil {
		return nil, t.fail(ctx, err)
	}

	t.logger.Debug("smtp delivery complete",
		zap.String("driver", config.DriverGoMail),
		zap.Strings("accepted", res.Accepted),
		zap.Strings("rejected", res.Rejected))

	return res, nil
}

func (t *MailTransport) fail(ctx context.Context, err error) error {
	if isTemporary(err) {
		t.logger.Warn("temporary smtp failure", zap.Error(err))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("failed to send email: %w: %w", ctxErr, err)
	}
	return fmt.Errorf("failed to send email: %w", err)
}

// dialer does the implicit TLS wrap itself because go-mail skips it when a
// custom dial function is set.
func (t *MailTransport) dialer(ctx context.Context) dialFunc {
	var implicit *tls.Config
	if t.config.SMTPSecure() {
		implicit = t.tlsConfig()
	}
	return sessionDialer(ctx, t.dial, implicit)
}

func (t *MailTransport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         t.config.SMTP.Host,
		InsecureSkipVerify: t.config.SMTP.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}
}

func (t *MailTransport) options() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(t.config.SMTP.Port),
		mail.WithTLSConfig(t.tlsConfig()),
	}
	if t.config.SMTP.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.config.SMTP.Timeout.Std()))
	}

	if t.config.SMTP.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.config.SMTP.Username),
			mail.WithPassword(t.config.SMTP.Password),
		)
	}

	if t.config.SMTPSecure() {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	return opts
}
