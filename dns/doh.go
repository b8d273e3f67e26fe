package dns

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/ashpost/ashpost/log"
)

const dohContentType = "application/dns-message"

// DoHResolver resolves MX records over DNS-over-HTTPS against a configured
// upstream, using github.com/miekg/dns to build and parse wire-format
// queries directly (rather than through its UDP/TCP dns.Client) since the
// transport here is an HTTPS POST.
type DoHResolver struct {
	// Upstream is the DoH query endpoint, e.g.
	// "https://dns.google/dns-query" or "https://cloudflare-dns.com/dns-query".
	Upstream string
	Client   *http.Client
	Log      log.Logger
}

func NewDoHResolver(upstream string) *DoHResolver {
	return &DoHResolver{
		Upstream: upstream,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Log:      log.Logger{Name: "dns/doh"},
	}
}

func (d *DoHResolver) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// query issues a single DoH request for (name, qtype) and returns the
// parsed response message.
func (d *DoHResolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	wire, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Upstream, bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", dohContentType)
	req.Header.Set("Accept", dohContentType)

	resp, err := d.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("dns: DoH upstream returned " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	out := new(dns.Msg)
	if err := out.Unpack(body); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveMX queries MX records for domain, then for every MX RR resolves
// A/AAAA for its (dot-trimmed) target hostname, emitting one MXRecord per
// resolved address. Malformed RRs are skipped; target-resolution failures
// are logged and skipped without aborting the rest of the result.
func (d *DoHResolver) ResolveMX(ctx context.Context, domain string) []MXRecord {
	resp, err := d.query(ctx, domain, dns.TypeMX)
	if err != nil {
		d.Log.Debugf("MX query for %s failed: %v", domain, err)
		return nil
	}

	var out []MXRecord
	for _, rr := range resp.Answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}

		target := strings.TrimSuffix(mx.Mx, ".")
		if target == "" {
			continue
		}

		addrs, err := d.resolveAddrs(ctx, target)
		if err != nil {
			d.Log.Printf("failed to resolve MX target %s: %v", target, err)
			continue
		}

		for _, ip := range addrs {
			out = append(out, MXRecord{Preference: mx.Preference, Addr: ip})
		}
	}

	return out
}

func (d *DoHResolver) resolveAddrs(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := d.query(ctx, host, qtype)
		if err != nil {
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, errors.New("no A/AAAA records for " + host)
	}
	return ips, nil
}

var _ Resolver = (*DoHResolver)(nil)
