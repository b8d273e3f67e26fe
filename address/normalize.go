package address

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripDiacritics decomposes a string to NFD, drops combining marks (Unicode
// category Mn), and recomposes to NFC.
var diacriticsTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func stripDiacritics(s string) string {
	out, _, err := transform.String(diacriticsTransform, s)
	if err != nil {
		return s
	}
	return out
}

var nonWordLocal = regexp.MustCompile(`[^0-9A-Za-z_]`)
var nonWordDomain = regexp.MustCompile(`[^0-9A-Za-z_.]`)

// NormalizeMailbox normalizes a bare local-part (no "@domain"): strip
// diacritics, lowercase, trim, drop dots, discard anything from a "+"
// onward, then replace any remaining non-word rune with "_".
func NormalizeMailbox(local string) string {
	s := stripDiacritics(local)
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, ".", "")
	s = nonWordLocal.ReplaceAllString(s, "_")
	return s
}

// NormalizeDomain normalizes a domain: lowercase, trim, IDNA-fold (so
// "EXAMPLE.com" and an internationalized A-label resolve to the same
// directory), replace any remaining non-word rune (besides ".") with "_",
// then trim leading dots.
func NormalizeDomain(domain string) string {
	s := strings.ToLower(strings.TrimSpace(domain))
	if uDomain, err := idna.ToUnicode(s); err == nil {
		s = uDomain
	}
	s = stripDiacritics(s)
	s = nonWordDomain.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")
	return s
}

// MailboxDir returns the (userDir, domainDir) pair used to build the
// on-disk path for a mailbox address. domainDir is "" for addresses
// without a domain (e.g. "postmaster").
func MailboxDir(addr string) (userDir, domainDir string) {
	local, domain, err := Split(addr)
	if err != nil {
		local = addr
		domain = ""
	}
	userDir = NormalizeMailbox(local)
	if domain != "" {
		domainDir = NormalizeDomain(domain)
	}
	return userDir, domainDir
}

// Key returns the normalized mailbox key built from MailboxDir's two parts:
// "user" or "user@domain".
func Key(addr string) string {
	userDir, domainDir := MailboxDir(addr)
	if domainDir == "" {
		return userDir
	}
	return userDir + "@" + domainDir
}
