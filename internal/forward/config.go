package forward

import (
	"context"
	"net/netip"

	"golang.org/x/net/proxy"
)

// Resolver resolves hostnames of the remote hosts.  *resolver.Resolver
// implements it.
type Resolver interface {
	LookupNetIP(ctx context.Context, host string) (addrs []netip.Addr, err error)
}

// Config is the forwarding engine configuration.
type Config struct {
	// Upstream is the dialer the connections will be forwarded to according
	// to ForwardRules.  It takes precedence over ForwardProxy.  Get nodes set
	// it to the dialer of their Give node.
	Upstream proxy.Dialer

	// Resolver is used for resolving remote hostnames when connecting
	// directly.  If nil, the system resolver is used.
	Resolver Resolver

	// ForwardProxy is the address of the SOCKS5/HTTP/HTTPS proxy that the
	// connections will be forwarded to according to ForwardRules.
	ForwardProxy string

	// ForwardRules is a list of wildcards that define what connections will be
	// forwarded to the upstream.  If the list is empty and the upstream is
	// set, all connections will be forwarded.
	ForwardRules []string

	// BlockRules is a list of wildcards that define connections to which hosts
	// will be blocked.
	BlockRules []string

	// StripHeaders is a list of headers removed from plain HTTP requests
	// before they are sent to the remote host.
	StripHeaders []string

	// BandwidthRate is a number of bytes per second the connections speed will
	// be limited to.  If not set, there is no limit.
	BandwidthRate float64
}
