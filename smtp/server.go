package smtp

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/log"
)

// Server is the listener for the inbound SMTP session: an accept loop
// binding to one TCP port, spawning an independent Session per connection.
type Server struct {
	Hostname  string
	TLSConfig *tls.Config
	Auth      auth.Provider
	Mailbox   MailboxStore
	Delivery  DeliveryClient
	Log       log.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// ListenAndServe binds addr and accepts connections until Close is called.
// Each accepted connection is served by its own Session in a new goroutine.
func (srv *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve accepts connections off ln until it is closed. An accept error ends
// the loop for this listener only; in-flight sessions are left to finish.
func (srv *Server) Serve(ln net.Listener) error {
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	srv.Log.Printf("smtp: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			sess := NewSession(conn, srv.Hostname, srv.TLSConfig, srv.Auth, srv.Mailbox, srv.Delivery, srv.Log)
			sess.Serve()
		}()
	}
}

// Close stops accepting new connections and waits for in-flight sessions
// to finish on their own rather than forcibly terminating them.
func (srv *Server) Close() error {
	srv.mu.Lock()
	ln := srv.listener
	srv.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	srv.wg.Wait()
	return err
}
