package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ashpost/ashpost/dns"
	"github.com/ashpost/ashpost/log"
)

// clientState is the outbound delivery state machine, driven as a single
// switch over (state, reply prefix) rather than a chain of callbacks.
type clientState int

const (
	stateGreet clientState = iota
	stateEHLO1
	stateTLSWait
	stateAfterMail
	stateAfterDataReq
	stateAfterData
	stateClosing
)

// Client drives one outbound delivery attempt per call to SendEmail: a
// one-shot, no-pooling connection that resolves MX, dials, and speaks the
// wire protocol by hand rather than through net/smtp, since the reply
// sequencing is part of the contract being driven, not an implementation
// detail to hide.
type Client struct {
	// Hostname is the identity advertised on EHLO.
	Hostname string
	Resolver dns.Resolver

	// Port is the remote SMTP port to connect to. Defaults to 25.
	Port int
	// ConnectTimeout bounds the initial TCP dial. Defaults to 30s.
	ConnectTimeout time.Duration

	Log log.Logger
}

func NewClient(hostname string, resolver dns.Resolver) *Client {
	return &Client{Hostname: hostname, Resolver: resolver, Log: log.Logger{Name: "smtp/client"}}
}

func (c *Client) port() int {
	if c.Port != 0 {
		return c.Port
	}
	return 25
}

func (c *Client) connectTimeout() time.Duration {
	if c.ConnectTimeout != 0 {
		return c.ConnectTimeout
	}
	return 30 * time.Second
}

// SendEmail resolves domain's MX records, picks one (uniform-random among
// those tied at the lowest preference), and attempts delivery of body from
// "from" to every address in recipients. Returns whether the remote
// accepted the message.
func (c *Client) SendEmail(ctx context.Context, domain, from string, recipients []string, body []byte) bool {
	return c.SendEmailTLS(ctx, domain, from, recipients, body, true)
}

// SendEmailTLS is SendEmail with explicit control over opportunistic
// STARTTLS (defaults to true).
func (c *Client) SendEmailTLS(ctx context.Context, domain, from string, recipients []string, body []byte, useTLS bool) bool {
	mx := c.pickMX(ctx, domain)
	if mx == nil {
		c.Log.Printf("no MX for domain %s, undeliverable", domain)
		return false
	}

	addr := net.JoinHostPort(mx.String(), strconv.Itoa(c.port()))
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout())
	if err != nil {
		c.Log.Printf("connect to %s failed: %v", addr, err)
		return false
	}
	defer conn.Close()

	return c.deliver(conn, from, recipients, body, useTLS)
}

func (c *Client) pickMX(ctx context.Context, domain string) net.IP {
	records := c.Resolver.ResolveMX(ctx, domain)
	if len(records) == 0 {
		return nil
	}

	lowest := records[0].Preference
	for _, r := range records {
		if r.Preference < lowest {
			lowest = r.Preference
		}
	}

	var tied []net.IP
	for _, r := range records {
		if r.Preference == lowest {
			tied = append(tied, r.Addr)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return tied[rand.Intn(len(tied))]
}

func (c *Client) deliver(conn net.Conn, from string, recipients []string, body []byte, useTLS bool) bool {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	state := stateGreet
	rcptIdx := 0
	upgraded := false
	startTLSOffered := false

	send := func(s string) bool {
		if _, err := w.WriteString(s + "\r\n"); err != nil {
			return false
		}
		return w.Flush() == nil
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return false
		}
		code := line[:3]
		terminal := len(line) == 3 || line[3] != '-'

		switch state {
		case stateGreet:
			if code != "220" {
				return false
			}
			if !send("EHLO " + c.Hostname) {
				return false
			}
			state = stateEHLO1

		case stateEHLO1:
			if code != "250" {
				return false
			}
			if strings.Contains(strings.ToUpper(line), "STARTTLS") {
				startTLSOffered = true
			}
			if !terminal {
				continue
			}
			if useTLS && !upgraded && startTLSOffered {
				if !send("STARTTLS") {
					return false
				}
				state = stateTLSWait
				continue
			}
			if !send("MAIL FROM:<" + from + ">") {
				return false
			}
			state = stateAfterMail

		case stateTLSWait:
			if code != "220" {
				return false
			}
			tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
			if err := tlsConn.Handshake(); err != nil {
				return false
			}
			conn = tlsConn
			r = bufio.NewReader(conn)
			w = bufio.NewWriter(conn)
			upgraded = true
			if !send("EHLO " + c.Hostname) {
				return false
			}
			state = stateEHLO1

		case stateAfterMail:
			if code != "250" {
				return false
			}
			if rcptIdx < len(recipients) {
				if !send("RCPT TO:<" + recipients[rcptIdx] + ">") {
					return false
				}
				rcptIdx++
				continue
			}
			if !send("DATA") {
				return false
			}
			state = stateAfterDataReq

		case stateAfterDataReq:
			if code != "354" {
				return false
			}
			if !writeDottedBody(w, body) {
				return false
			}
			state = stateAfterData

		case stateAfterData:
			if code != "250" {
				return false
			}
			if !send("QUIT") {
				return false
			}
			state = stateClosing

		case stateClosing:
			return code == "221"
		}
	}
}

// writeDottedBody writes body with LF normalized to CRLF and SMTP
// dot-stuffing (any line starting with "." gets an extra leading "."),
// terminated by the lone "." end-of-data marker.
func writeDottedBody(w *bufio.Writer, body []byte) bool {
	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			return false
		}
	}
	if _, err := w.WriteString(".\r\n"); err != nil {
		return false
	}
	return w.Flush() == nil
}
