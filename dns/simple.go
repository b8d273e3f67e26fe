package dns

import (
	"context"
	"net"
)

// SimpleResolver is a fallback MX resolver that ignores MX records
// entirely and resolves A/AAAA of the domain itself, returning each
// address at preference 0.
type SimpleResolver struct {
	Resolver *net.Resolver
}

func NewSimpleResolver() *SimpleResolver {
	return &SimpleResolver{Resolver: net.DefaultResolver}
}

func (s *SimpleResolver) resolver() *net.Resolver {
	if s.Resolver != nil {
		return s.Resolver
	}
	return net.DefaultResolver
}

func (s *SimpleResolver) ResolveMX(ctx context.Context, domain string) []MXRecord {
	ips, err := s.resolver().LookupIP(ctx, "ip", domain)
	if err != nil {
		return nil
	}

	out := make([]MXRecord, 0, len(ips))
	for _, ip := range ips {
		out = append(out, MXRecord{Preference: 0, Addr: ip})
	}
	return out
}

var _ Resolver = (*SimpleResolver)(nil)
