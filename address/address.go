// Package address implements RFC 5321 forward-path splitting and the
// lossy, deterministic mailbox-key normalization ashpost's mailbox store
// uses to derive on-disk directory names, built on the same
// golang.org/x/text/golang.org/x/net building blocks used elsewhere in
// this module for domain canonicalization.
package address

import (
	"errors"
	"strings"
)

// Split splits an email address into local part (mailbox) and domain. The
// special "postmaster" address (no domain) is returned with domain == "".
func Split(addr string) (mailbox, domain string, err error) {
	if strings.EqualFold(addr, "postmaster") {
		return addr, "", nil
	}

	var (
		quoted          bool
		escaped         bool
		terminatedQuote bool
		b               strings.Builder
	)

mboxLoop:
	for i, ch := range addr {
		if terminatedQuote && ch != '@' {
			return "", "", errors.New("address: closing quote should be right before at-sign")
		}

		switch ch {
		case '"':
			if !escaped {
				quoted = !quoted
				if !quoted {
					terminatedQuote = true
				}
				continue
			}
		case '\\':
			if !escaped {
				if !quoted {
					return "", "", errors.New("address: escapes are allowed only in quoted strings")
				}
				escaped = true
				continue
			}
		case '@':
			if !escaped && !quoted {
				domain = addr[i+len(string(ch)):]
				if strings.Contains(domain, "@") {
					return "", "", errors.New("address: multiple at-signs")
				}
				break mboxLoop
			}
		}

		b.WriteRune(ch)
		escaped = false
	}

	if quoted {
		return "", "", errors.New("address: unterminated quoted string")
	}
	if domain == "" && !strings.Contains(addr, "@") {
		return "", "", errors.New("address: missing at-sign")
	}

	return b.String(), domain, nil
}
