package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sync"
	"time"

	gosmtp "github.com/wneessen/go-mail/smtp"
)

// ErrAllRejected means the server refused every recipient and no DATA was sent.
var ErrAllRejected = errors.New("notification: all recipients were rejected")

// session is the part of an SMTP client a mail transaction needs. The
// net/smtp client satisfies it as is.
type session interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Reset() error
}

// bracketed adapts the go-mail client, which sends MAIL and RCPT arguments
// verbatim, to bare addresses.
type bracketed struct {
	*gosmtp.Client
}

func (b bracketed) Mail(from string) error { return b.Client.Mail("<" + from + ">") }
func (b bracketed) Rcpt(to string) error   { return b.Client.Rcpt("<" + to + ">") }

// deliver runs one MAIL/RCPT/DATA transaction. A recipient refused with an
// SMTP reply lands in Result.Rejected and the rest are still delivered; any
// other failure aborts the transaction.
func deliver(s session, from string, to []string, body io.WriterTo) (*Result, error) {
	if err := s.Mail(from); err != nil {
		return nil, fmt.Errorf("MAIL FROM rejected: %w", err)
	}

	res := &Result{Accepted: []string{}, Rejected: []string{}}
	var lastErr error
	for _, rcpt := range to {
		if err := s.Rcpt(rcpt); err != nil {
			var reply *textproto.Error
			if !errors.As(err, &reply) {
				return nil, fmt.Errorf("RCPT TO %s: %w", rcpt, err)
			}
			res.Rejected = append(res.Rejected, rcpt)
			lastErr = err
			continue
		}
		res.Accepted = append(res.Accepted, rcpt)
	}

	if len(res.Accepted) == 0 {
		_ = s.Reset()
		return res, fmt.Errorf("%w: %w", ErrAllRejected, lastErr)
	}

	w, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := body.WriteTo(w); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("message rejected: %w", err)
	}
	return res, nil
}

// isTemporary reports a 4xx reply anywhere in err's chain.
func isTemporary(err error) bool {
	var reply *textproto.Error
	return errors.As(err, &reply) && reply.Code/100 == 4
}

// dialFunc matches net.Dialer.DialContext.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// sessionDialer ties every connection it opens to ctx: a ctx deadline becomes
// the socket deadline and cancelling ctx unblocks any pending read or write.
// With a non-nil tlsConfig the connection is wrapped for implicit TLS.
func sessionDialer(ctx context.Context, dial dialFunc, tlsConfig *tls.Config) dialFunc {
	return func(dialCtx context.Context, network, address string) (net.Conn, error) {
		raw, err := dial(dialCtx, network, address)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := raw.SetDeadline(deadline); err != nil {
				_ = raw.Close()
				return nil, err
			}
		}

		conn := &boundConn{Conn: raw}
		conn.stop = context.AfterFunc(ctx, func() {
			_ = raw.SetDeadline(time.Now())
		})

		if tlsConfig == nil {
			return conn, nil
		}
		// Returned unwrapped: SMTP clients check for *tls.Conn before
		// allowing PLAIN auth.
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}

type boundConn struct {
	net.Conn
	stop func() bool
	once sync.Once
}

func (c *boundConn) Close() error {
	c.once.Do(func() { c.stop() })
	return c.Conn.Close()
}
