// Package mailbox implements the mailbox store: accepting deposited
// messages for known local users and letting IMAP sessions enumerate and
// fetch them back.
//
// Store wraps an auth provider and exposes per-mailbox append/list/fetch
// operations, hand-rolled against in-memory map and plain-file layouts the
// contract specifies directly.
package mailbox

import (
	"strings"

	"github.com/ashpost/ashpost/auth"
	"github.com/ashpost/ashpost/exterrors"
	"github.com/ashpost/ashpost/log"
)

// Store appends and retrieves messages for known local mailboxes.
type Store struct {
	Auth auth.Provider
	Back Backend
	Log  log.Logger
}

// Backend is the storage medium a Store delegates to — an in-memory map
// (Memory) or a directory tree (Filesystem).
type Backend interface {
	// Append adds body to mailbox and returns its assigned UID.
	Append(mailbox string, body []byte) (uid string, err error)
	// ListUIDs returns the UIDs of mailbox ordered ascending by append time.
	ListUIDs(mailbox string) []string
	// Get returns the stored octets for uid in mailbox, or ok=false if absent.
	Get(mailbox, uid string) (body []byte, ok bool)
}

func New(authProvider auth.Provider, back Backend) *Store {
	return &Store{Auth: authProvider, Back: back, Log: log.Logger{Name: "mailbox"}}
}

// ResolveMailboxes delegates to the auth provider's ExistingUsers, filtering
// recipients down to known local addresses.
func (s *Store) ResolveMailboxes(recipients []string) []string {
	return s.Auth.ExistingUsers(recipients)
}

// Store appends "From: <from>\nTo: <to, joined by ', '>\n<body>" to every
// recipient in to that is a known local user, returning the addresses
// actually stored. Unknown recipients are silently skipped.
func (s *Store) Store(from string, to []string, body []byte) []string {
	known := s.Auth.ExistingUsers(to)
	if len(known) == 0 {
		return nil
	}

	msg := buildStoredMessage(from, to, body)

	stored := make([]string, 0, len(known))
	for _, addr := range known {
		if _, err := s.Back.Append(addr, msg); err != nil {
			// Per spec.md §7, a storage failure is logged but does not
			// change the SMTP reply (still 250 OK); a stricter
			// implementation could map this to a 451 temporary failure.
			s.Log.Error("mailbox: append failed", &exterrors.SMTPError{
				Code:         451,
				EnhancedCode: exterrors.EnhancedCode{4, 3, 0},
				Message:      "mailbox store append failed",
				Target:       addr,
				Err:          err,
			})
			continue
		}
		stored = append(stored, addr)
	}
	return stored
}

func (s *Store) ListMessagesUIDs(mailbox string) []string {
	uids := s.Back.ListUIDs(mailbox)
	if uids == nil {
		return []string{}
	}
	return uids
}

func (s *Store) CountMessagesUIDs(mailbox string) int {
	return len(s.Back.ListUIDs(mailbox))
}

func (s *Store) GetMessage(mailbox, uid string) ([]byte, bool) {
	return s.Back.Get(mailbox, uid)
}

func buildStoredMessage(from string, to []string, body []byte) []byte {
	header := "From: " + from + "\nTo: " + strings.Join(to, ", ") + "\n"
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}
