package udt

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"
	"golang.org/x/net/proxy"
)

// streamConn is a net.Conn on top of a QUIC stream.
type streamConn struct {
	quic.Stream

	qc quic.Connection

	// owner is true if the stream is the only stream of the connection and
	// the connection must be closed with it.
	owner bool
}

// type check
var _ net.Conn = (*streamConn)(nil)

// LocalAddr implements the net.Conn interface for *streamConn.
func (c *streamConn) LocalAddr() (addr net.Addr) { return c.qc.LocalAddr() }

// RemoteAddr implements the net.Conn interface for *streamConn.
func (c *streamConn) RemoteAddr() (addr net.Addr) { return c.qc.RemoteAddr() }

// CloseWrite closes the sending side of the stream so that the peer reads EOF.
func (c *streamConn) CloseWrite() (err error) {
	return c.Stream.Close()
}

// Close implements the net.Conn interface for *streamConn.
func (c *streamConn) Close() (err error) {
	c.Stream.CancelRead(0)
	err = c.Stream.Close()

	if c.owner {
		return c.qc.CloseWithError(0, "")
	}

	return err
}

// Dialer dials a fixed UDT address no matter what address it is asked for.  It
// is used as the transport of an HTTP proxy dialer.
type Dialer struct {
	// TLSConfig is the client TLS configuration.
	TLSConfig *tls.Config

	// Addr is the address of the UDT listener.
	Addr string
}

// type check
var _ proxy.Dialer = (*Dialer)(nil)
var _ proxy.ContextDialer = (*Dialer)(nil)

// Dial implements the proxy.Dialer interface for *Dialer.
func (d *Dialer) Dial(network, address string) (conn net.Conn, err error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext implements the proxy.ContextDialer interface for *Dialer.
func (d *Dialer) DialContext(ctx context.Context, _, _ string) (conn net.Conn, err error) {
	return Dial(ctx, d.Addr, d.TLSConfig)
}
