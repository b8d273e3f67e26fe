package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"net"
	"strings"
	"testing"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/log"
	"github.com/ashpost/ashpost/mailbox"
	"github.com/ashpost/ashpost/tlsutil"
)

// startSMTPServer binds a real TCP listener on 127.0.0.1:0, serves it with a
// Server and returns its address for the test to net.Dial; the server is
// closed automatically via t.Cleanup.
func startSMTPServer(t *testing.T, authProvider auth.Provider, store *mailbox.Store, delivery DeliveryClient) string {
	t.Helper()

	cert, err := tlsutil.SelfSigned([]string{"127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}

	srv := &Server{
		Hostname:  "localhost",
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		Auth:      authProvider,
		Mailbox:   store,
		Delivery:  delivery,
		Log:       log.Logger{Name: "smtp/test"},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String()
}

func TestEndToEndLocalDeposit(t *testing.T) {
	a := auth.NewStatic()
	if err := a.AddUser("alice@example.com", "password123", 4); err != nil {
		t.Fatal(err)
	}
	if err := a.AddUser("bob@example.com", "password123", 4); err != nil {
		t.Fatal(err)
	}
	store := mailbox.New(a, mailbox.NewMemory())

	addr := startSMTPServer(t, a, store, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	send := func(s string) { sendLine(t, w, s) }
	expect := func(prefix string) string {
		line := readLine(t, r)
		if !strings.HasPrefix(line, prefix) {
			t.Fatalf("expected prefix %q, got %q", prefix, line)
		}
		return line
	}

	expect("220 localhost ESMTP Ready")

	send("EHLO client")
	expect("250-localhost")
	expect("250-STARTTLS")
	expect("250-AUTH LOGIN PLAIN")
	expect("250 OK")

	send("STARTTLS")
	expect("220 Ready to start TLS")

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("TLS handshake: %v", err)
	}
	conn = tlsConn
	r = bufio.NewReader(conn)
	w = bufio.NewWriter(conn)

	send("EHLO client")
	expect("250-localhost")
	expect("250-AUTH LOGIN PLAIN")
	expect("250 OK")

	send("AUTH LOGIN")
	line := expect("334 ")
	if got, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, "334 ")); string(got) != "Username:" {
		t.Fatalf("username prompt = %q", line)
	}
	send(base64.StdEncoding.EncodeToString([]byte("alice@example.com")))
	line = expect("334 ")
	if got, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, "334 ")); string(got) != "Password:" {
		t.Fatalf("password prompt = %q", line)
	}
	send(base64.StdEncoding.EncodeToString([]byte("password123")))
	expect("235 Auth OK")

	send("MAIL FROM:<alice@example.com>")
	expect("250 OK")
	send("RCPT TO:<bob@example.com>")
	expect("250 OK")
	send("DATA")
	expect("354 ")
	send("Hello Bob")
	send(".")
	expect("250 OK")

	send("QUIT")
	expect("221 Bye")

	if n := store.CountMessagesUIDs("bob@example.com"); n != 1 {
		t.Fatalf("expected 1 message for bob, got %d", n)
	}
	body, ok := store.GetMessage("bob@example.com", "0")
	if !ok {
		t.Fatal("expected message 0 present")
	}
	if !strings.Contains(string(body), "Hello Bob") || !strings.Contains(string(body), "From: alice@example.com") {
		t.Errorf("stored body = %q", body)
	}
}

// fakeRelay records every domain it was asked to deliver to, standing in
// for a real outbound Client in session-level tests.
type fakeRelay struct {
	calls []string
}

func (f *fakeRelay) SendEmail(_ context.Context, domain, from string, recipients []string, body []byte) bool {
	f.calls = append(f.calls, domain)
	return true
}

func TestEndToEndRelayToExternalDomain(t *testing.T) {
	a := auth.NewStatic()
	if err := a.AddUser("alice@example.com", "password123", 4); err != nil {
		t.Fatal(err)
	}
	store := mailbox.New(a, mailbox.NewMemory())
	relay := &fakeRelay{}

	addr := startSMTPServer(t, a, store, relay)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	send := func(s string) { sendLine(t, w, s) }
	expect := func(prefix string) string {
		line := readLine(t, r)
		if !strings.HasPrefix(line, prefix) {
			t.Fatalf("expected prefix %q, got %q", prefix, line)
		}
		return line
	}

	expect("220 ")
	send("EHLO client")
	for i := 0; i < 4; i++ {
		readLine(t, r)
	}

	send("STARTTLS")
	expect("220 ")
	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("TLS handshake: %v", err)
	}
	conn = tlsConn
	r = bufio.NewReader(conn)
	w = bufio.NewWriter(conn)

	send("EHLO client")
	for i := 0; i < 3; i++ {
		readLine(t, r)
	}

	send("AUTH LOGIN")
	readLine(t, r)
	send(base64.StdEncoding.EncodeToString([]byte("alice@example.com")))
	readLine(t, r)
	send(base64.StdEncoding.EncodeToString([]byte("password123")))
	expect("235 ")

	send("MAIL FROM:<alice@example.com>")
	expect("250 OK")
	send("RCPT TO:<bob@example2.com>")
	expect("550 ")
	send("DATA")
	expect("354 ")
	send("Hello external")
	send(".")
	expect("250 OK")

	if len(relay.calls) != 1 || relay.calls[0] != "example2.com" {
		t.Fatalf("expected one relay call to example2.com, got %v", relay.calls)
	}
}
