// Package auth implements the membership and credential-validation
// contract shared by the SMTP and IMAP sessions.
package auth

// Provider is set membership over addresses, plus credential validation.
// No errors are surfaced to callers; an unknown address simply yields
// false.
type Provider interface {
	// HasUser reports whether addr is a known local mailbox.
	HasUser(addr string) bool

	// Validate checks addr's secret.
	Validate(addr, secret string) bool

	// ExistingUsers filters addrs down to the ones that are known local
	// mailboxes, preserving input order.
	ExistingUsers(addrs []string) []string
}
