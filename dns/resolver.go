// Package dns implements mail-exchanger resolution: given a domain, return
// its mail-exchanger addresses, each with its preference. The list is not
// sorted by preference.
package dns

import (
	"context"
	"net"
)

// MXRecord is a resolved mail-exchanger address with its DNS preference.
type MXRecord struct {
	Preference uint16
	Addr       net.IP
}

// Resolver never returns an error to the caller: on any failure, it
// returns an empty slice, which callers treat as "undeliverable".
type Resolver interface {
	ResolveMX(ctx context.Context, domain string) []MXRecord
}
