// Package forward is the forwarding engine.  It relays the requests that
// passed the filter: CONNECT requests are tunneled to the requested host, plain
// HTTP requests in the absolute form are sent to their origin.
package forward

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/fujiwara/shapeio"
	"github.com/getlantern/give/internal/auth"
	"github.com/getlantern/give/internal/engine"
	"github.com/getlantern/give/internal/filter"
	"golang.org/x/net/proxy"

	// Imported in order to register HTTP and HTTPS proxies.
	_ "github.com/getlantern/give/internal/httpupstream"
)

const (
	// connectionTimeout is a timeout for connecting to a remote host.
	connectionTimeout = 10 * time.Second

	// remotePortPlain is the default port for plain HTTP requests.
	remotePortPlain = 80

	// remotePortTLS is the default port for CONNECT requests.
	remotePortTLS = 443
)

// connectEstablished is the response to a successful CONNECT request.
const connectEstablished = "HTTP/1.1 200 Connection established\r\n\r\n"

// badGateway is written when the remote host cannot be reached.
var badGateway = &filter.Response{Status: http.StatusBadGateway}

// hopHeaders are removed from plain HTTP requests before forwarding.
var hopHeaders = []string{
	auth.Header,
	"Proxy-Authorization",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Upgrade",
}

// Forwarder relays requests to the remote hosts.
type Forwarder struct {
	dialer      *net.Dialer
	proxyDialer proxy.Dialer
	resolver    Resolver

	forwardRules []string
	blockRules   []string
	stripHeaders []string

	bandwidthRate float64
}

// type check
var _ engine.Forwarder = (*Forwarder)(nil)

// New creates a new instance of *Forwarder.
func New(cfg *Config) (f *Forwarder, err error) {
	dialer := &net.Dialer{
		Timeout: connectionTimeout,
	}

	proxyDialer := cfg.Upstream
	if proxyDialer == nil && cfg.ForwardProxy != "" {
		var u *url.URL
		u, err = url.Parse(cfg.ForwardProxy)
		if err != nil {
			return nil, fmt.Errorf(
				"forward: failed to parse forward-proxy %s: %w",
				cfg.ForwardProxy,
				err,
			)
		}

		proxyDialer, err = proxy.FromURL(u, dialer)
		if err != nil {
			return nil, fmt.Errorf(
				"forward: failed to init forward-proxy %s: %w",
				cfg.ForwardProxy,
				err,
			)
		}
	}

	stripHeaders := append([]string{}, hopHeaders...)
	stripHeaders = append(stripHeaders, cfg.StripHeaders...)

	return &Forwarder{
		dialer:        dialer,
		proxyDialer:   proxyDialer,
		resolver:      cfg.Resolver,
		forwardRules:  cfg.ForwardRules,
		blockRules:    cfg.BlockRules,
		stripHeaders:  stripHeaders,
		bandwidthRate: cfg.BandwidthRate,
	}, nil
}

// Forward implements the [engine.Forwarder] interface for *Forwarder.
func (f *Forwarder) Forward(
	ctx context.Context,
	req *http.Request,
	client net.Conn,
	clientReader io.Reader,
) (err error) {
	t, ok := newTunnelFor(req)
	if !ok {
		// Not a proxy request, look like an ordinary server.
		return filter.NotFound().Write(client)
	}

	if filter.MatchWildcards(t.RemoteHost, f.blockRules) {
		log.Info("forward: [%d] blocked connection to %s", t.ID, t.RemoteHost)

		return filter.NotFound().Write(client)
	}

	log.Info("forward: [%d] start tunneling to %s", t.ID, t.RemoteAddr)

	backendConn, err := f.dial(ctx, t)
	if err != nil {
		_ = badGateway.Write(client)

		return fmt.Errorf("forward: [%d] failed to connect to %s: %w", t.ID, t.RemoteAddr, err)
	}
	defer log.OnCloserError(backendConn, log.DEBUG)

	stop := closeOnDone(ctx, backendConn)
	defer stop()

	if req.Method == http.MethodConnect {
		return f.relayConnect(t, client, clientReader, backendConn)
	}

	return f.relayPlain(t, req, client, backendConn)
}

// newTunnelFor returns the tunnel for the proxy request req.  ok is false if
// req is not a proxy request.
func newTunnelFor(req *http.Request) (t *Tunnel, ok bool) {
	var hostport string
	var defaultTLS bool

	switch {
	case req.Method == http.MethodConnect:
		hostport = req.RequestURI
		defaultTLS = true
	case req.URL != nil && req.URL.IsAbs() && req.URL.Host != "":
		hostport = req.URL.Host
		defaultTLS = req.URL.Scheme == "https"
	default:
		return nil, false
	}

	if hostport == "" {
		return nil, false
	}

	// The target may contain both host and port, consider this case.
	serverName := hostport
	hostname, remotePort, err := netutil.SplitHostPort(hostport)
	if err == nil {
		serverName = hostname
	} else if defaultTLS {
		remotePort = remotePortTLS
	} else {
		remotePort = remotePortPlain
	}

	return NewTunnel(serverName, netutil.JoinHostPort(serverName, remotePort)), true
}

// relayConnect answers the CONNECT request and tunnels traffic both ways.
func (f *Forwarder) relayConnect(
	t *Tunnel,
	client net.Conn,
	clientReader io.Reader,
	backendConn net.Conn,
) (err error) {
	if _, err = io.WriteString(client, connectEstablished); err != nil {
		return fmt.Errorf("forward: [%d] writing connect response: %w", t.ID, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var bytesReceived, bytesSent int64

	go func() {
		defer wg.Done()

		bytesReceived = f.tunnel(t, client, backendConn)
	}()
	go func() {
		defer wg.Done()

		bytesSent = f.tunnel(t, backendConn, clientReader)
	}()

	wg.Wait()

	log.Info(
		"forward: [%d] finished tunneling to %s. received %d, sent %d",
		t.ID,
		t.RemoteAddr,
		bytesReceived,
		bytesSent,
	)

	return nil
}

// relayPlain sends a plain HTTP request to the remote host and copies the
// response back.  The request is sent with "Connection: close" so that the
// next request of the client is filtered again.
func (f *Forwarder) relayPlain(
	t *Tunnel,
	req *http.Request,
	client net.Conn,
	backendConn net.Conn,
) (err error) {
	out := req.Clone(req.Context())
	out.Body = req.Body
	out.RequestURI = ""
	out.Close = true
	for _, h := range f.stripHeaders {
		out.Header.Del(h)
	}

	if err = out.Write(f.shapeWriter(backendConn)); err != nil {
		return fmt.Errorf("forward: [%d] writing request to %s: %w", t.ID, t.RemoteAddr, err)
	}

	received := f.tunnel(t, client, backendConn)

	log.Info("forward: [%d] finished request to %s. received %d", t.ID, t.RemoteAddr, received)

	return nil
}

// dial opens a TCP connection to the remote address of the tunnel.  It also
// applies forward rules in the case if proxy dialer is specified.
func (f *Forwarder) dial(ctx context.Context, t *Tunnel) (conn net.Conn, err error) {
	if f.shouldForward(t) {
		if cd, ok := f.proxyDialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", t.RemoteAddr)
		}

		return f.proxyDialer.Dial("tcp", t.RemoteAddr)
	}

	if f.resolver == nil {
		return f.dialer.DialContext(ctx, "tcp", t.RemoteAddr)
	}

	_, port, err := net.SplitHostPort(t.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("bad remote address: %w", err)
	}

	addrs, err := f.resolver.LookupNetIP(ctx, t.RemoteHost)
	if err != nil {
		return nil, err
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", t.RemoteHost)
	}

	for _, addr := range addrs {
		conn, err = f.dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}

		log.Debug("forward: [%d] failed to connect to %s: %v", t.ID, addr, err)
	}

	return nil, err
}

// closeOnDone closes conn as soon as ctx is done so that the tunnel through it
// ends.  stop must be called when the tunnel is finished.
func closeOnDone(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.OnCloserError(conn, log.DEBUG)
		case <-done:
		}
	}()

	return func() { close(done) }
}

// shouldForward checks if the connection should be forwarded to the upstream.
func (f *Forwarder) shouldForward(t *Tunnel) (ok bool) {
	if f.proxyDialer == nil {
		return false
	}

	if len(f.forwardRules) == 0 {
		// forward all connections if there are no rules.
		return true
	}

	return filter.MatchWildcards(t.RemoteHost, f.forwardRules)
}

// closeWriter is a helper interface which only purpose is to check if the
// object has CloseWrite function or not and call it if it exists.
type closeWriter interface {
	CloseWrite() error
}

// tunnel copies data from src to dst and closes the writing side of dst when
// src is exhausted.
func (f *Forwarder) tunnel(t *Tunnel, dst net.Conn, src io.Reader) (written int64) {
	defer func() {
		// In the case of *tcp.Conn and *tls.Conn we should call CloseWriter, so
		// we're using closeWriter interface to check for that function
		// presence.
		switch c := dst.(type) {
		case closeWriter:
			_ = c.CloseWrite()
		default:
			_ = c.Close()
		}
	}()

	reader := shapeio.NewReader(src)
	if f.bandwidthRate > 0 {
		reader.SetRateLimit(f.bandwidthRate)
	}

	written, err := io.Copy(f.shapeWriter(dst), reader)
	if err != nil {
		log.Debug("forward: [%d] finished copying due to %v", t.ID, err)
	}

	return written
}

// shapeWriter wraps w with the bandwidth limit, if any.
func (f *Forwarder) shapeWriter(w io.Writer) (sw io.Writer) {
	writer := shapeio.NewWriter(w)
	if f.bandwidthRate > 0 {
		writer.SetRateLimit(f.bandwidthRate)
	}

	return writer
}
