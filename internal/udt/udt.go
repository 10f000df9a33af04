// Package udt implements the alternate transport of a Give node.  Lantern
// historically used UDT here, this implementation runs the same HTTP
// exchange over QUIC streams: every stream is exposed as a separate net.Conn
// so that the connection engine can serve it like a TCP connection.
package udt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol identifier of the transport.
const NextProto = "lantern-udt"

const (
	// keepAlivePeriod is how often the QUIC keep-alive packets are sent.
	keepAlivePeriod = 15 * time.Second

	// maxIdleTimeout is the maximum period of inactivity of a QUIC
	// connection.
	maxIdleTimeout = 60 * time.Second

	// acceptQueueSize is the number of accepted streams that may wait for the
	// Accept call.
	acceptQueueSize = 64
)

// newQUICConfig returns the QUIC configuration shared by the listener and the
// dialer.
func newQUICConfig() (conf *quic.Config) {
	return &quic.Config{
		KeepAlivePeriod: keepAlivePeriod,
		MaxIdleTimeout:  maxIdleTimeout,
	}
}

// withNextProto returns a copy of tlsConf with NextProtos set to the transport
// protocol.
func withNextProto(tlsConf *tls.Config) (conf *tls.Config) {
	if tlsConf == nil {
		conf = &tls.Config{}
	} else {
		conf = tlsConf.Clone()
	}
	conf.NextProtos = []string{NextProto}

	return conf
}

// Listener is a net.Listener that accepts QUIC streams.
type Listener struct {
	ql    *quic.Listener
	conns chan net.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// type check
var _ net.Listener = (*Listener)(nil)

// Listen starts listening for QUIC connections on addr.  tlsConf must contain
// the server certificate.
func Listen(addr string, tlsConf *tls.Config) (l *Listener, err error) {
	ql, err := quic.ListenAddr(addr, withNextProto(tlsConf), newQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("udt: listening on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l = &Listener{
		ql:     ql,
		conns:  make(chan net.Conn, acceptQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	l.wg.Add(1)
	go l.acceptConnections()

	return l, nil
}

// acceptConnections accepts QUIC connections until the listener is closed.
func (l *Listener) acceptConnections() {
	defer l.wg.Done()

	for {
		qc, err := l.ql.Accept(l.ctx)
		if err != nil {
			log.Debug("udt: stopped accepting connections: %v", err)

			return
		}

		l.wg.Add(1)
		go l.acceptStreams(qc)
	}
}

// acceptStreams accepts the streams of a single QUIC connection and queues
// them for Accept.
func (l *Listener) acceptStreams(qc quic.Connection) {
	defer l.wg.Done()

	for {
		stream, err := qc.AcceptStream(l.ctx)
		if err != nil {
			log.Debug("udt: connection from %s finished: %v", qc.RemoteAddr(), err)

			return
		}

		c := &streamConn{Stream: stream, qc: qc}
		select {
		case l.conns <- c:
		case <-l.ctx.Done():
			_ = c.Close()

			return
		}
	}
}

// Accept implements the net.Listener interface for *Listener.
func (l *Listener) Accept() (conn net.Conn, err error) {
	select {
	case conn = <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Close implements the net.Listener interface for *Listener.
func (l *Listener) Close() (err error) {
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.ql.Close()
		l.wg.Wait()
	})

	return err
}

// Addr implements the net.Listener interface for *Listener.
func (l *Listener) Addr() (addr net.Addr) {
	return l.ql.Addr()
}

// Dial opens a new QUIC connection to addr and returns its first stream.  The
// connection is closed together with the returned net.Conn.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (conn net.Conn, err error) {
	qc, err := quic.DialAddr(ctx, addr, withNextProto(tlsConf), newQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("udt: dialing %s: %w", addr, err)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")

		return nil, fmt.Errorf("udt: opening stream to %s: %w", addr, err)
	}

	return &streamConn{Stream: stream, qc: qc, owner: true}, nil
}
