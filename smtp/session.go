package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/log"
)

var errAuthFailed = errors.New("smtp: invalid credentials")

// MailboxStore is the subset of the mailbox store contract the inbound
// session depends on.
type MailboxStore interface {
	Store(from string, to []string, body []byte) []string
}

// DeliveryClient is the subset of the outbound delivery contract the
// inbound session depends on for relaying to external recipients.
type DeliveryClient interface {
	SendEmail(ctx context.Context, domain, from string, recipients []string, body []byte) bool
}

// authLineMode tracks which base64 line the session is expecting next
// during an AUTH LOGIN exchange.
type authLineMode int

const (
	authNone authLineMode = iota
	authExpectUsername
	authExpectPassword
)

// Session is one inbound SMTP connection's state machine.
type Session struct {
	Hostname  string
	TLSConfig *tls.Config
	Auth      auth.Provider
	Mailbox   MailboxStore
	Delivery  DeliveryClient
	Log       log.Logger

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	tlsOn     bool
	authed    bool
	authUser  string
	authMode  authLineMode
	mailFrom  string
	fromLocal bool
	rcpt      []string
	data      bytes.Buffer
	inData    bool
}

// NewSession wraps conn for the given collaborators. Callers must call Serve.
func NewSession(conn net.Conn, hostname string, tlsConfig *tls.Config, authProvider auth.Provider, mailboxStore MailboxStore, delivery DeliveryClient, logger log.Logger) *Session {
	return &Session{
		Hostname:  hostname,
		TLSConfig: tlsConfig,
		Auth:      authProvider,
		Mailbox:   mailboxStore,
		Delivery:  delivery,
		Log:       logger,
		conn:      conn,
		r:         bufio.NewReader(conn),
		w:         bufio.NewWriter(conn),
	}
}

func (s *Session) writeLine(line string) error {
	if _, err := s.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// reply writes a single-line "<code> <msg>" reply using the named reply
// codes in reply.go.
func (s *Session) reply(code int, msg string) error {
	return s.writeLine(strconv.Itoa(code) + " " + msg)
}

// Serve drives the session until the peer disconnects or issues QUIT.
func (s *Session) Serve() {
	defer s.conn.Close()

	if err := s.reply(ReplyReady, s.Hostname+" ESMTP Ready"); err != nil {
		return
	}

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if s.inData {
			if s.handleDataLine(line) {
				return
			}
			continue
		}

		if s.handleCommand(line) {
			return
		}
	}
}

// handleCommand dispatches one non-DATA line. Returns true if the session
// should terminate (QUIT or a transport error).
func (s *Session) handleCommand(line string) bool {
	switch s.authMode {
	case authExpectUsername:
		return s.handleAuthUsername(line)
	case authExpectPassword:
		return s.handleAuthPassword(line)
	}

	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "EHLO") || strings.HasPrefix(upper, "HELO"):
		return s.handleGreeting()
	case upper == "STARTTLS":
		return s.handleStartTLS()
	case upper == "QUIT":
		s.reply(ReplyBye, "Bye")
		return true
	case strings.HasPrefix(upper, "AUTH LOGIN"):
		return s.handleAuthLoginStart()
	case strings.HasPrefix(upper, "AUTH PLAIN"):
		return s.handleAuthPlain(line)
	case strings.HasPrefix(upper, "MAIL FROM:"):
		return s.handleMailFrom(line)
	case strings.HasPrefix(upper, "RCPT TO:"):
		return s.handleRcptTo(line)
	case upper == "DATA":
		s.inData = true
		return s.fail(s.reply(ReplyStartMailInput, "End with <CRLF>.<CRLF>"))
	default:
		return s.fail(s.reply(ReplyNotImplemented, "Not implemented"))
	}
}

func (s *Session) fail(err error) bool {
	return err != nil
}

func (s *Session) handleGreeting() bool {
	prefix := strconv.Itoa(ReplyOK)
	lines := []string{prefix + "-" + s.Hostname}
	if !s.tlsOn {
		lines = append(lines, prefix+"-STARTTLS")
	}
	lines = append(lines, prefix+"-AUTH LOGIN PLAIN", prefix+" OK")
	for _, l := range lines {
		if err := s.writeLine(l); err != nil {
			return true
		}
	}
	return false
}

func (s *Session) handleStartTLS() bool {
	if s.tlsOn {
		return s.fail(s.reply(ReplyBadSequence, "TLS already active"))
	}
	if err := s.reply(ReplyReady, "Ready to start TLS"); err != nil {
		return true
	}

	tlsConn := tls.Server(s.conn, s.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.Log.Printf("TLS handshake failed: %v", err)
		return true
	}
	s.conn = tlsConn
	s.r = bufio.NewReader(tlsConn)
	s.w = bufio.NewWriter(tlsConn)
	s.tlsOn = true
	return false
}

func (s *Session) handleAuthLoginStart() bool {
	if !s.tlsOn {
		return s.fail(s.reply(ReplyEncryptionReq, "Encryption required"))
	}
	s.authMode = authExpectUsername
	return s.fail(s.reply(ReplyStartData, base64.StdEncoding.EncodeToString([]byte("Username:"))))
}

func (s *Session) handleAuthUsername(line string) bool {
	user, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		s.authMode = authNone
		return s.fail(s.reply(ReplyAuthFailed, "Auth failed"))
	}
	if !s.Auth.HasUser(string(user)) {
		s.authMode = authNone
		return s.fail(s.reply(ReplyAuthFailed, "Auth failed"))
	}
	s.authUser = string(user)
	s.authMode = authExpectPassword
	return s.fail(s.reply(ReplyStartData, base64.StdEncoding.EncodeToString([]byte("Password:"))))
}

func (s *Session) handleAuthPassword(line string) bool {
	s.authMode = authNone
	pass, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return s.fail(s.reply(ReplyAuthFailed, "Auth failed"))
	}
	if !s.Auth.Validate(s.authUser, string(pass)) {
		return s.fail(s.reply(ReplyAuthFailed, "Auth failed"))
	}
	s.authed = true
	return s.fail(s.reply(ReplyAuthOK, "Auth OK"))
}

// handleAuthPlain decodes "AUTH PLAIN <b64>" using go-sasl's PLAIN server,
// which parses the authzid\0authcid\0passwd wire format for us.
func (s *Session) handleAuthPlain(line string) bool {
	if !s.tlsOn {
		return s.fail(s.reply(ReplyEncryptionReq, "Encryption required"))
	}

	b64 := strings.TrimSpace(line[len("AUTH PLAIN"):])
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || b64 == "" {
		return s.fail(s.reply(ReplyAuthFailed, "Auth failed"))
	}

	var validated bool
	srv := sasl.NewPlainServer(func(identity, username, password string) error {
		validated = s.Auth.Validate(username, password)
		if validated {
			s.authUser = username
		}
		if !validated {
			return errAuthFailed
		}
		return nil
	})

	if _, _, err := srv.Next(raw); err != nil || !validated {
		return s.fail(s.reply(ReplyAuthFailed, "Auth failed"))
	}
	s.authed = true
	return s.fail(s.reply(ReplyAuthOK, "Auth OK"))
}

func (s *Session) handleMailFrom(line string) bool {
	addr, ok := extractAngleAddr(line)
	if !ok {
		return s.fail(s.reply(ReplyNotImplemented, "Not implemented"))
	}

	local := s.Auth.HasUser(addr)
	if local && !s.authed {
		return s.fail(s.reply(ReplyAuthRequired, "Authentication required"))
	}

	s.mailFrom = addr
	s.fromLocal = local
	s.rcpt = nil
	return s.fail(s.reply(ReplyOK, "OK"))
}

func (s *Session) handleRcptTo(line string) bool {
	addr, ok := extractAngleAddr(line)
	if !ok {
		return s.fail(s.reply(ReplyNotImplemented, "Not implemented"))
	}

	if s.Auth.HasUser(addr) {
		s.rcpt = append(s.rcpt, addr)
		return s.fail(s.reply(ReplyOK, "OK"))
	}

	if !s.authed || !s.fromLocal {
		return s.fail(s.reply(ReplyAuthRequired, "Authentication required"))
	}
	s.rcpt = append(s.rcpt, addr)
	return s.fail(s.reply(ReplyUserUnknown, "5.1.1 User unknown"))
}

// handleDataLine appends one body line, or finalizes the message on a lone
// "." Returns true if the session should terminate (transport error).
func (s *Session) handleDataLine(line string) bool {
	if line == "." {
		s.inData = false
		body := make([]byte, s.data.Len())
		copy(body, s.data.Bytes())
		s.data.Reset()

		s.onReceiveEmail(s.mailFrom, s.rcpt, body)

		// Reset envelope state so a pipelined client can send another
		// message on the same session.
		s.mailFrom = ""
		s.fromLocal = false
		s.rcpt = nil

		return s.fail(s.reply(ReplyOK, "OK"))
	}

	s.data.WriteString(line)
	s.data.WriteByte('\n')
	return false
}

// onReceiveEmail runs the post-DATA logic: anti-relay check, local
// storage, and domain-grouped relay of external recipients.
func (s *Session) onReceiveEmail(mailFrom string, rcpt []string, body []byte) {
	// msgID only identifies this message in the logs; it is not the
	// store's UID (see mailbox/memory.go and mailbox/filesystem.go for
	// that scheme).
	msgID := uuid.NewString()
	msgLog := s.Log.WithFields("msg_id", msgID, "from", mailFrom)

	localRecipients := s.Auth.ExistingUsers(rcpt)

	if s.fromLocal && len(localRecipients) == 0 && (!s.authed || mailFrom != s.authUser) {
		msgLog.Msg("rejected: unauthenticated relay attempt")
		return
	}

	if len(localRecipients) > 0 {
		stored := s.Mailbox.Store(mailFrom, rcpt, body)
		msgLog.Msg("stored locally", "recipients", len(stored))
	}

	if s.fromLocal && s.authed && mailFrom == s.authUser && len(localRecipients) < len(rcpt) {
		msgLog.Msg("relaying to external recipients")
		s.relayExternal(mailFrom, rcpt, localRecipients, body)
	}
}

func (s *Session) relayExternal(mailFrom string, rcpt, localRecipients []string, body []byte) {
	local := make(map[string]bool, len(localRecipients))
	for _, a := range localRecipients {
		local[a] = true
	}

	byDomain := make(map[string][]string)
	for _, addr := range rcpt {
		if local[addr] {
			continue
		}
		_, domain, ok := splitAddr(addr)
		if !ok {
			continue
		}
		byDomain[domain] = append(byDomain[domain], addr)
	}

	var g errgroup.Group
	for domain, externals := range byDomain {
		domain, externals := domain, externals
		g.Go(func() error {
			s.Delivery.SendEmail(context.Background(), domain, mailFrom, externals, body)
			return nil
		})
	}
	_ = g.Wait()
}

func extractAngleAddr(line string) (string, bool) {
	start := strings.IndexByte(line, '<')
	end := strings.IndexByte(line, '>')
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return line[start+1 : end], true
}

func splitAddr(addr string) (local, domain string, ok bool) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}
