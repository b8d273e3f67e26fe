// Package imap implements an IMAP server session: a per-connection command
// loop exposing stored messages through a small RFC3501 subset (STARTTLS,
// LOGIN, LIST, SELECT, UID SEARCH, UID FETCH, LOGOUT).
//
// The command loop is hand-rolled line-by-line the same way smtp.Session
// is, rather than wrapping emersion/go-imap's backend.Backend interface:
// that library's full RFC3501 semantics (flags, MSNs, multiple mailboxes)
// go far beyond the single-INBOX, UID-only subset served here.
package imap

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"strings"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/log"
)

// MailboxStore is the subset of the mailbox store contract the IMAP
// session depends on.
type MailboxStore interface {
	ListMessagesUIDs(mailbox string) []string
	CountMessagesUIDs(mailbox string) int
	GetMessage(mailbox, uid string) ([]byte, bool)
}

// Session is one IMAP connection's command loop.
type Session struct {
	Hostname  string
	TLSConfig *tls.Config
	Auth      auth.Provider
	Mailbox   MailboxStore
	Log       log.Logger

	// ImplicitTLS marks a connection accepted on the IMAPS listener: tls
	// starts true and STARTTLS is never offered again.
	ImplicitTLS bool

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	tlsOn         bool
	authenticated bool
	user          string
}

// NewSession wraps conn for the given collaborators. Callers must call Serve.
func NewSession(conn net.Conn, hostname string, tlsConfig *tls.Config, implicitTLS bool, authProvider auth.Provider, mailboxStore MailboxStore, logger log.Logger) *Session {
	return &Session{
		Hostname:    hostname,
		TLSConfig:   tlsConfig,
		Auth:        authProvider,
		Mailbox:     mailboxStore,
		Log:         logger,
		ImplicitTLS: implicitTLS,
		tlsOn:       implicitTLS,
		conn:        conn,
		r:           bufio.NewReader(conn),
		w:           bufio.NewWriter(conn),
	}
}

func (s *Session) writeLine(line string) error {
	if _, err := s.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// Serve drives the session until the peer disconnects or issues LOGOUT.
func (s *Session) Serve() {
	defer s.conn.Close()

	if err := s.writeLine("* OK [" + s.Hostname + "] IMAP4rev1 Ready"); err != nil {
		return
	}

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if s.handleLine(line) {
			return
		}
	}
}

// handleLine dispatches one tagged client line. Returns true if the
// session should terminate.
func (s *Session) handleLine(line string) bool {
	tag, rest, ok := splitTag(line)
	if !ok {
		return false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return s.fail(s.writeLine(tag + " BAD Missing command"))
	}

	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "CAPABILITY":
		return s.handleCapability(tag)
	case "STARTTLS":
		return s.handleStartTLS(tag)
	case "LOGIN":
		return s.handleLogin(tag, args)
	case "LIST":
		return s.handleList(tag)
	case "SELECT":
		return s.handleSelect(tag)
	case "LOGOUT":
		s.writeLine("* BYE Logging out")
		s.writeLine(tag + " OK LOGOUT completed")
		return true
	case "UID":
		return s.handleUID(tag, args)
	default:
		return s.fail(s.writeLine(tag + " BAD Unsupported command"))
	}
}

func splitTag(line string) (tag, rest string, ok bool) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, "", line != ""
	}
	return line[:i], line[i+1:], true
}

func (s *Session) fail(err error) bool {
	return err != nil
}

func (s *Session) handleCapability(tag string) bool {
	caps := "* CAPABILITY IMAP4rev1 UIDPLUS"
	if !s.tlsOn {
		caps += " STARTTLS"
	}
	if err := s.writeLine(caps); err != nil {
		return true
	}
	return s.fail(s.writeLine(tag + " OK CAPABILITY completed"))
}

func (s *Session) handleStartTLS(tag string) bool {
	if s.tlsOn {
		return s.fail(s.writeLine(tag + " BAD Already in TLS"))
	}
	if err := s.writeLine(tag + " OK Begin TLS negotiation"); err != nil {
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

func (s *Session) handleLogin(tag string, args []string) bool {
	if !s.tlsOn {
		return s.fail(s.writeLine(tag + " NO STARTTLS required before login"))
	}
	if len(args) != 2 {
		return s.fail(s.writeLine(tag + " BAD LOGIN requires two arguments"))
	}

	user := unquote(args[0])
	pass := unquote(args[1])
	if !s.Auth.Validate(user, pass) {
		return s.fail(s.writeLine(tag + " NO LOGIN failed"))
	}

	s.authenticated = true
	s.user = user
	return s.fail(s.writeLine(tag + " OK LOGIN completed"))
}

func (s *Session) handleList(tag string) bool {
	if err := s.writeLine(`* LIST (\HasNoChildren) "/" INBOX`); err != nil {
		return true
	}
	return s.fail(s.writeLine(tag + " OK LIST completed"))
}

func (s *Session) requireAuth(tag string) bool {
	if s.authenticated {
		return true
	}
	s.writeLine(tag + " NO AUTHENTICATIONFAILED Authentication required")
	return false
}

func (s *Session) handleSelect(tag string) bool {
	if !s.requireAuth(tag) {
		return false
	}

	n := s.Mailbox.CountMessagesUIDs(s.user)
	if err := s.writeLine("* " + strconv.Itoa(n) + " EXISTS"); err != nil {
		return true
	}
	if err := s.writeLine(`* FLAGS (\Seen)`); err != nil {
		return true
	}
	return s.fail(s.writeLine(tag + " OK [READ-WRITE] SELECT completed"))
}

// handleUID dispatches "UID SEARCH ..." and "UID FETCH ...". Both use
// 1-based positional numbering rather than the store's own UIDs, a
// deliberate divergence from RFC3501.
func (s *Session) handleUID(tag string, args []string) bool {
	if len(args) == 0 {
		return s.fail(s.writeLine(tag + " BAD UID requires a subcommand"))
	}

	switch strings.ToUpper(args[0]) {
	case "SEARCH":
		return s.handleUIDSearch(tag)
	case "FETCH":
		return s.handleUIDFetch(tag)
	default:
		return s.fail(s.writeLine(tag + " BAD Unsupported UID subcommand"))
	}
}

func (s *Session) handleUIDSearch(tag string) bool {
	if !s.requireAuth(tag) {
		return false
	}

	uids := s.Mailbox.ListMessagesUIDs(s.user)
	parts := make([]string, len(uids))
	for i := range uids {
		parts[i] = strconv.Itoa(i + 1)
	}

	line := "* SEARCH"
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}
	if err := s.writeLine(line); err != nil {
		return true
	}
	return s.fail(s.writeLine(tag + " OK SEARCH completed"))
}

func (s *Session) handleUIDFetch(tag string) bool {
	if !s.requireAuth(tag) {
		return false
	}

	uids := s.Mailbox.ListMessagesUIDs(s.user)
	for i, uid := range uids {
		body, ok := s.Mailbox.GetMessage(s.user, uid)
		if !ok {
			continue
		}

		pos := strconv.Itoa(i + 1)
		header := "* " + pos + " FETCH (UID " + pos + " RFC822 {" + strconv.Itoa(len(body)) + "}"
		if err := s.writeLine(header); err != nil {
			return true
		}
		if _, err := s.w.Write(body); err != nil {
			return true
		}
		if err := s.writeLine(")"); err != nil {
			return true
		}
	}
	return s.fail(s.writeLine(tag + " OK FETCH completed"))
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
