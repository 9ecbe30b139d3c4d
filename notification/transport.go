// Package notification delivers composed messages over SMTP.
package notification

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"lead-relay/config"
)

var (
	ErrNoRecipient   = errors.New("notification: message has no recipient")
	ErrNoContent     = errors.New("notification: message has no HTML body")
	ErrUnknownDriver = errors.New("notification: unknown smtp driver")
)

// Message is a single outbound email.
type Message struct {
	FromName    string
	FromAddress string
	To          []string
	Subject     string
	HTML        string
}

// From renders the From header value. Printable ASCII names go out as a
// quoted-string; anything else, commas included, is sent as RFC 2047
// encoded words so no name can break the header or split the address list.
// The address is written as given between angle brackets.
func (m *Message) From() string {
	addr := "<" + m.FromAddress + ">"
	if m.FromName == "" {
		return addr
	}
	if quotable(m.FromName) {
		return `"` + quoteEscaper.Replace(m.FromName) + `" ` + addr
	}
	return encodeWords(m.FromName) + " " + addr
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quotable(name string) bool {
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x20 || c > 0x7e || c == ',' {
			return false
		}
	}
	return true
}

// maxWordBytes keeps each encoded word under the 75 byte limit.
const maxWordBytes = 45

func encodeWords(name string) string {
	var words []string
	for len(name) > 0 {
		n := 0
		for n < len(name) {
			_, size := utf8.DecodeRuneInString(name[n:])
			if n+size > maxWordBytes && n > 0 {
				break
			}
			n += size
		}
		words = append(words, "=?utf-8?b?"+base64.StdEncoding.EncodeToString([]byte(name[:n]))+"?=")
		name = name[n:]
	}
	return strings.Join(words, " ")
}

// envelopeSender picks the MAIL FROM address. Providers that authenticate
// by mailbox only relay for that mailbox, so a username that looks like an
// address wins over the submitter's.
func envelopeSender(cfg *config.Config, msg *Message) string {
	if strings.Contains(cfg.SMTP.Username, "@") {
		return cfg.SMTP.Username
	}
	return msg.FromAddress
}

func (m *Message) check() error {
	if len(m.To) == 0 {
		return ErrNoRecipient
	}
	if m.HTML == "" {
		return ErrNoContent
	}
	return nil
}

// Result lists the recipients the server took and the ones it refused.
type Result struct {
	Accepted []string
	Rejected []string
}

// Transport sends a message and reports per-recipient acceptance.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// NewTransport builds the transport selected by cfg.SMTP.Driver.
func NewTransport(cfg *config.Config, logger *zap.Logger) (Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.SMTP.Driver {
	case config.DriverGoMail:
		return NewMailTransport(cfg, logger), nil
	case config.DriverJordan:
		return NewSMTPTransport(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.SMTP.Driver)
	}
}
