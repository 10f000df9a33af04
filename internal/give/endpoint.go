package give

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/getlantern/give/internal/filter"
	"github.com/getlantern/give/internal/udt"
)

// Transport is the transport and security level of an endpoint.
type Transport int

// Transport values.
const (
	TransportPlain Transport = iota
	TransportTLS
	TransportUDT
)

// String implements the fmt.Stringer interface for Transport.
func (t Transport) String() (s string) {
	switch t {
	case TransportPlain:
		return "plain"
	case TransportTLS:
		return "tls"
	case TransportUDT:
		return "udt"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

// EndpointConfig is the configuration of a single listener.  It must not be
// changed after the listener is started.
type EndpointConfig struct {
	// TLSConfig is the server TLS configuration.  It is required for the TLS
	// and UDT transports.
	TLSConfig *tls.Config

	// Filters creates the filter of every request.
	Filters filter.Source

	// Addr is the address to listen on.
	Addr *net.TCPAddr

	// Name is used in the log messages.
	Name string

	// Transport is the transport of the endpoint.
	Transport Transport
}

// With returns a copy of c with the transport and the address replaced.  The
// filters and the TLS settings are shared with c.
func (c EndpointConfig) With(name string, t Transport, addr *net.TCPAddr) (copied EndpointConfig) {
	copied = c
	copied.Name = name
	copied.Transport = t
	copied.Addr = addr

	return copied
}

// listen binds the endpoint's socket.
func (c EndpointConfig) listen() (l net.Listener, err error) {
	switch c.Transport {
	case TransportPlain:
		l, err = net.ListenTCP("tcp", c.Addr)
	case TransportTLS:
		var tl net.Listener
		tl, err = net.ListenTCP("tcp", c.Addr)
		if err == nil {
			l = tls.NewListener(tl, c.TLSConfig)
		}
	case TransportUDT:
		l, err = udt.Listen(c.Addr.String(), c.TLSConfig)
	default:
		return nil, fmt.Errorf("unsupported transport %s", c.Transport)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: listening on %s: %w", c.Name, c.Addr, err)
	}

	return l, nil
}
