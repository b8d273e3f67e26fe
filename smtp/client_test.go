package smtp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/ashpost/ashpost/dns"
)

// stubResolver returns a fixed set of MX records regardless of domain.
type stubResolver struct {
	records []dns.MXRecord
}

func (s stubResolver) ResolveMX(ctx context.Context, domain string) []dns.MXRecord {
	return s.records
}

func TestClientPicksLowestPreferenceMX(t *testing.T) {
	c := &Client{Hostname: "client.example.com", Resolver: stubResolver{records: []dns.MXRecord{
		{Preference: 20, Addr: net.ParseIP("127.0.0.1")},
		{Preference: 10, Addr: net.ParseIP("127.0.0.2")},
	}}}

	got := c.pickMX(context.Background(), "example.com")
	if got.String() != "127.0.0.2" {
		t.Errorf("pickMX = %v, want 127.0.0.2 (preference 10)", got)
	}
}

func TestClientNoMXReturnsFalse(t *testing.T) {
	c := NewClient("client.example.com", stubResolver{})
	if c.SendEmail(context.Background(), "nowhere.invalid", "a@b.com", []string{"c@d.com"}, []byte("hi")) {
		t.Error("expected false when resolver returns no MX records")
	}
}

// fakeRemoteMTA drives a scripted SMTP transcript without TLS, exercising
// Client.deliver's state machine end to end.
func fakeRemoteMTA(t *testing.T) (addr string, received chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	received = make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)
		send := func(s string) { w.WriteString(s + "\r\n"); w.Flush() }
		readLine := func() string {
			line, _ := r.ReadString('\n')
			return strings.TrimRight(line, "\r\n")
		}

		send("220 fake.mta ESMTP Ready")
		readLine() // EHLO
		send("250-fake.mta")
		send("250 AUTH LOGIN PLAIN") // no STARTTLS advertised: plaintext delivery
		readLine()                   // MAIL FROM
		send("250 OK")
		readLine() // RCPT TO
		send("250 OK")
		readLine() // DATA
		send("354 End with <CRLF>.<CRLF>")

		var body []byte
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
			body = append(body, []byte(line)...)
		}
		received <- body
		send("250 OK")
		readLine() // QUIT
		send("221 Bye")
	}()

	return ln.Addr().String(), received
}

func TestClientDeliversToFakeRemote(t *testing.T) {
	addr, received := fakeRemoteMTA(t)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}

	c := &Client{
		Hostname: "client.example.com",
		Resolver: stubResolver{records: []dns.MXRecord{{Preference: 0, Addr: net.ParseIP(host)}}},
		Port:     portNum,
	}

	ok := c.SendEmail(context.Background(), "example.com", "alice@example.com", []string{"bob@example.com"}, []byte("Hello\nWorld"))
	if !ok {
		t.Fatal("expected delivery to succeed")
	}

	select {
	case body := <-received:
		if !strings.Contains(string(body), "Hello") || !strings.Contains(string(body), "World") {
			t.Errorf("remote received %q", body)
		}
	default:
		t.Fatal("remote never received a body")
	}
}

func TestWriteDottedBodyStuffsLeadingDots(t *testing.T) {
	var buf strings.Builder
	w := bufio.NewWriter(&buf)
	if !writeDottedBody(w, []byte(".leading dot\nnormal line\n..double")) {
		t.Fatal("writeDottedBody failed")
	}

	out := buf.String()
	if !strings.HasPrefix(out, "..leading dot\r\n") {
		t.Errorf("expected stuffed leading dot, got %q", out)
	}
	if !strings.Contains(out, "\r\n...double\r\n") {
		t.Errorf("expected stuffed double-dot line, got %q", out)
	}
	if !strings.HasSuffix(out, ".\r\n") {
		t.Errorf("expected terminating dot, got %q", out)
	}
}
