// Package resolver resolves the hostnames the forwarding engine connects to
// using a configurable DNS upstream instead of the system resolver.  It lets a
// Give node use an encrypted resolver (DoH, DoT, DoQ) when the local one is
// not trustworthy.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/dnsproxy/upstream"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
)

// ErrNoAddresses is returned when the upstream has no A/AAAA records for a
// host.
const ErrNoAddresses errors.Error = "no addresses"

// defaultTimeout is the default timeout of a single DNS exchange.
const defaultTimeout = 5 * time.Second

// Config is the resolver configuration.
type Config struct {
	// Upstream is the address of the DNS upstream in any format supported by
	// [upstream.AddressToUpstream], e.g. "https://dns.google/dns-query".
	Upstream string

	// Bootstrap is a list of plain DNS resolvers used to resolve the
	// upstream's own hostname.
	Bootstrap []string

	// Timeout is the timeout of a single exchange.  If not set, five seconds
	// are used.
	Timeout time.Duration
}

// Resolver resolves hostnames with the configured DNS upstream.
type Resolver struct {
	ups upstream.Upstream
}

// type check
var _ io.Closer = (*Resolver)(nil)

// New creates a new instance of *Resolver.
func New(cfg *Config) (r *Resolver, err error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	ups, err := upstream.AddressToUpstream(cfg.Upstream, &upstream.Options{
		Bootstrap: cfg.Bootstrap,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: parsing upstream %s: %w", cfg.Upstream, err)
	}

	return &Resolver{ups: ups}, nil
}

// LookupNetIP returns the IPv4 and IPv6 addresses of host.  IP literals are
// returned as is.
func (r *Resolver) LookupNetIP(ctx context.Context, host string) (addrs []netip.Addr, err error) {
	if ip, pErr := netip.ParseAddr(host); pErr == nil {
		return []netip.Addr{ip}, nil
	}

	var errs []error
	for _, qType := range []uint16{dns.TypeA, dns.TypeAAAA} {
		if err = ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolver: looking up %s: %w", host, err)
		}

		var found []netip.Addr
		found, err = r.exchange(host, qType)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		addrs = append(addrs, found...)
	}

	if len(addrs) > 0 {
		return addrs, nil
	}

	if len(errs) > 0 {
		// Both questions failed, the first error is enough to explain why.
		return nil, fmt.Errorf("resolver: looking up %s: %w", host, errs[0])
	}

	return nil, fmt.Errorf("resolver: looking up %s: %w", host, ErrNoAddresses)
}

// exchange sends a single question to the upstream and returns addresses from
// the answer section.
func (r *Resolver) exchange(host string, qType uint16) (addrs []netip.Addr, err error) {
	req := &dns.Msg{}
	req.SetQuestion(dns.Fqdn(host), qType)
	req.RecursionDesired = true

	resp, err := r.ups.Exchange(req)
	if err != nil {
		return nil, fmt.Errorf("exchanging %s %s: %w", dns.Type(qType), host, err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s %s: rcode %s", dns.Type(qType), host, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}

		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}

	log.Debug("resolver: %s %s: %v", dns.Type(qType), host, addrs)

	return addrs, nil
}

// Close implements the [io.Closer] interface for *Resolver.
func (r *Resolver) Close() (err error) {
	return r.ups.Close()
}
