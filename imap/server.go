package imap

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/log"
)

// Server is the listener pair for IMAP: a cleartext-with-STARTTLS listener
// (standard port 143) and an implicit-TLS listener (standard port 993),
// structured the same way as smtp.Server, just bound twice.
type Server struct {
	Hostname  string
	TLSConfig *tls.Config
	Auth      auth.Provider
	Mailbox   MailboxStore
	Log       log.Logger

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
}

// ListenAndServe binds imapAddr (plaintext, STARTTLS-capable) and imapsAddr
// (implicit TLS) and serves both until Close is called.
func (srv *Server) ListenAndServe(imapAddr, imapsAddr string) error {
	plain, err := net.Listen("tcp", imapAddr)
	if err != nil {
		return err
	}

	secure, err := net.Listen("tcp", imapsAddr)
	if err != nil {
		plain.Close()
		return err
	}

	return srv.Serve(plain, secure)
}

// Serve runs the accept loops for an already-bound plaintext listener and
// an already-bound (not yet TLS-wrapped) secure listener, which Serve wraps
// with srv.TLSConfig itself. Split out from ListenAndServe so tests can
// bind ephemeral ports with net.Listen(":0") before starting the server.
func (srv *Server) Serve(plain, secure net.Listener) error {
	secure = tls.NewListener(secure, srv.TLSConfig)

	srv.mu.Lock()
	srv.listeners = []net.Listener{plain, secure}
	srv.mu.Unlock()

	srv.wg.Add(2)
	errCh := make(chan error, 2)
	go func() {
		defer srv.wg.Done()
		errCh <- srv.serve(plain, false)
	}()
	go func() {
		defer srv.wg.Done()
		errCh <- srv.serve(secure, true)
	}()

	return <-errCh
}

func (srv *Server) serve(ln net.Listener, implicitTLS bool) error {
	srv.Log.Printf("imap: listening on %s (implicit TLS: %v)", ln.Addr(), implicitTLS)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			sess := NewSession(conn, srv.Hostname, srv.TLSConfig, implicitTLS, srv.Auth, srv.Mailbox, srv.Log)
			sess.Serve()
		}()
	}
}

// Close stops accepting new connections on both listeners and waits for
// in-flight sessions to finish on their own.
func (srv *Server) Close() error {
	srv.mu.Lock()
	lns := srv.listeners
	srv.mu.Unlock()

	var firstErr error
	for _, ln := range lns {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	srv.wg.Wait()
	return firstErr
}
