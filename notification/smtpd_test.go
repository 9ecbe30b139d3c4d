package notification

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"io"
	"net"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	mailFromRE = regexp.MustCompile(`^[Ff][Rr][Oo][Mm]:<(.*)>`)
	rcptToRE   = regexp.MustCompile(`^[Tt][Oo]:<(.+)>`)
)

// receivedMail is one completed transaction as the server saw it.
type receivedMail struct {
	From     string
	Rcpt     []string
	Data     string
	Username string
	Password string
	TLS      bool
}

type smtpServer struct {
	ImplicitTLS bool
	StartTLS    bool
	Auth        bool
	// DenyAuth answers every AUTH with 535.
	DenyAuth bool
	// Stall accepts connections and never greets.
	Stall bool
	// Reject refuses a recipient with 550.
	Reject func(rcpt string) bool

	ln     net.Listener
	tlsCfg *tls.Config
	wg     sync.WaitGroup

	mu      sync.Mutex
	mails   []receivedMail
	resets  int
	hangups chan struct{}
}

func testCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	s := httptest.NewUnstartedServer(nil)
	s.StartTLS()
	defer s.Close()
	return s.TLS.Certificates[0]
}

func startSMTPServer(t *testing.T, srv *smtpServer) *smtpServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv.ln = ln
	srv.tlsCfg = &tls.Config{Certificates: []tls.Certificate{testCertificate(t)}}
	srv.hangups = make(chan struct{}, 16)

	srv.wg.Add(1)
	go srv.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		srv.wg.Wait()
	})
	return srv
}

// dialer sends every connection to the test listener whatever the
// configured host and port.
func (s *smtpServer) dialer() dialFunc {
	return func(ctx context.Context, network, _ string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, network, s.ln.Addr().String())
	}
}

func (s *smtpServer) Mails() []receivedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]receivedMail(nil), s.mails...)
}

func (s *smtpServer) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *smtpServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if s.Stall {
				_, _ = io.Copy(io.Discard, conn)
			} else {
				s.handle(conn)
			}
			select {
			case s.hangups <- struct{}{}:
			default:
			}
		}()
	}
}

func (s *smtpServer) handle(conn net.Conn) {
	secure := false
	if s.ImplicitTLS {
		conn = tls.Server(conn, s.tlsCfg)
		secure = true
	}
	text := textproto.NewConn(conn)
	reply := func(format string, args ...any) bool {
		return text.PrintfLine(format, args...) == nil
	}

	var cur receivedMail
	var user, pass string
	if !reply("220 localhost ESMTP ready") {
		return
	}

	for {
		line, err := text.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")

		switch strings.ToUpper(verb) {
		case "EHLO", "HELO":
			ext := []string{"localhost", "8BITMIME"}
			if s.StartTLS && !secure {
				ext = append(ext, "STARTTLS")
			}
			if s.Auth {
				ext = append(ext, "AUTH PLAIN")
			}
			for i, e := range ext {
				sep := "-"
				if i == len(ext)-1 {
					sep = " "
				}
				reply("250%s%s", sep, e)
			}
		case "STARTTLS":
			reply("220 go ahead")
			tlsConn := tls.Server(conn, s.tlsCfg)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			text = textproto.NewConn(conn)
			secure = true
		case "AUTH":
			mech, resp, _ := strings.Cut(arg, " ")
			if !strings.EqualFold(mech, "PLAIN") {
				reply("504 unsupported mechanism")
				continue
			}
			if resp == "" {
				reply("334 ")
				if resp, err = text.ReadLine(); err != nil {
					return
				}
			}
			raw, err := base64.StdEncoding.DecodeString(resp)
			parts := strings.Split(string(raw), "\x00")
			if err != nil || len(parts) != 3 {
				reply("501 malformed credentials")
				continue
			}
			if s.DenyAuth {
				reply("535 5.7.8 authentication failed")
				continue
			}
			user, pass = parts[1], parts[2]
			reply("235 authenticated")
		case "MAIL":
			m := mailFromRE.FindStringSubmatch(arg)
			if m == nil {
				reply("501 bad sender")
				continue
			}
			cur = receivedMail{From: m[1]}
			reply("250 sender ok")
		case "RCPT":
			m := rcptToRE.FindStringSubmatch(arg)
			if m == nil {
				reply("501 bad recipient")
				continue
			}
			if s.Reject != nil && s.Reject(m[1]) {
				reply("550 5.1.1 no such user")
				continue
			}
			cur.Rcpt = append(cur.Rcpt, m[1])
			reply("250 recipient ok")
		case "DATA":
			if len(cur.Rcpt) == 0 {
				reply("554 no valid recipients")
				continue
			}
			reply("354 end with .")
			data, err := text.ReadDotBytes()
			if err != nil {
				return
			}
			cur.Data = string(data)
			cur.Username, cur.Password, cur.TLS = user, pass, secure
			s.mu.Lock()
			s.mails = append(s.mails, cur)
			s.mu.Unlock()
			cur = receivedMail{}
			reply("250 queued")
		case "RSET":
			s.mu.Lock()
			s.resets++
			s.mu.Unlock()
			cur = receivedMail{}
			reply("250 reset")
		case "NOOP":
			reply("250 ok")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 command not implemented")
		}
	}
}
