// Package getmode is the Get node: a local HTTP proxy which sends the traffic
// of its clients through a Give node, presenting the auth token.
package getmode

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	golibserrors "github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/getlantern/give/internal/auth"
	"github.com/getlantern/give/internal/engine"
	"github.com/getlantern/give/internal/filter"
	"github.com/getlantern/give/internal/forward"
	"github.com/getlantern/give/internal/httpupstream"
	"github.com/getlantern/give/internal/udt"
	"golang.org/x/net/proxy"
)

// Transports supported for the connection to the Give node.
const (
	TransportTLS = "tls"
	TransportUDT = "udt"
)

const (
	// ErrBadTransport is returned for unknown transports.
	ErrBadTransport golibserrors.Error = "unsupported transport"

	// ErrNoToken is returned when the auth token is not set.
	ErrNoToken golibserrors.Error = "auth token is required"
)

// dialTimeout is the timeout of connecting to the Give node.
const dialTimeout = 10 * time.Second

// Config is the Get node configuration.
type Config struct {
	// RootCAs is the set of roots the Give node's certificate is verified
	// with.  If nil, the system roots are used.
	RootCAs *x509.CertPool

	// ListenAddr is the address of the local proxy.
	ListenAddr *net.TCPAddr

	// GiveAddr is the address of the Give node's TLS or UDT endpoint.
	GiveAddr string

	// ServerName is the name the Give node's certificate is verified for.
	// If empty, the host of GiveAddr is used.
	ServerName string

	// AuthToken is the token presented to the Give node.
	AuthToken string

	// Transport is either TransportTLS or TransportUDT.
	Transport string

	// AcceptRate limits the number of connections per second the local proxy
	// starts handling.  If not set, there is no limit.
	AcceptRate float64
}

// Get manages the local proxy of a Get node.
type Get struct {
	listenAddr *net.TCPAddr
	engine     *engine.Engine

	// mu protects listener and done.
	mu       *sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// type check
var _ io.Closer = (*Get)(nil)

// Filter returns the filter of the local proxy.  Only proxy requests, CONNECT
// or requests in the absolute form, are forwarded.
func Filter() (f filter.Func) {
	return filter.OnHead(func(v *filter.RequestView) (d filter.Decision) {
		if v.Method == http.MethodConnect || isAbsolute(v.Target) {
			return filter.PassThrough()
		}

		return filter.ShortCircuit(filter.NotFound())
	})
}

// isAbsolute returns true if target is a request target in the absolute form.
func isAbsolute(target string) (ok bool) {
	return len(target) > 0 && target[0] != '/' && target != "*"
}

// New creates a new instance of *Get.
func New(cfg *Config) (g *Get, err error) {
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("getmode: %w", ErrNoToken)
	}

	upstream, err := newUpstream(cfg)
	if err != nil {
		return nil, fmt.Errorf("getmode: %w", err)
	}

	fwd, err := forward.New(&forward.Config{Upstream: upstream})
	if err != nil {
		return nil, fmt.Errorf("getmode: %w", err)
	}

	return &Get{
		listenAddr: cfg.ListenAddr,
		engine: engine.New(&engine.Config{
			Filters:    filter.Static(Filter()),
			Forwarder:  fwd,
			Name:       "Get",
			AcceptRate: cfg.AcceptRate,
		}),
		mu: &sync.Mutex{},
	}, nil
}

// newUpstream returns the dialer which opens tunnels through the Give node.
func newUpstream(cfg *Config) (d proxy.Dialer, err error) {
	tlsConfig := &tls.Config{
		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,
		MinVersion: tls.VersionTLS12,
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName, _, err = net.SplitHostPort(cfg.GiveAddr)
		if err != nil {
			return nil, fmt.Errorf("bad give address %q: %w", cfg.GiveAddr, err)
		}
	}

	header := http.Header{}
	auth.Stamp(header, cfg.AuthToken)

	upCfg := &httpupstream.Config{
		Address: cfg.GiveAddr,
		Header:  header,
	}

	var next proxy.Dialer
	switch cfg.Transport {
	case TransportTLS, "":
		upCfg.TLSConfig = tlsConfig
		next = &net.Dialer{Timeout: dialTimeout}
	case TransportUDT:
		// QUIC is already encrypted, the CONNECT request is sent in the clear
		// over the stream.
		next = &udt.Dialer{Addr: cfg.GiveAddr, TLSConfig: tlsConfig}
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadTransport, cfg.Transport)
	}

	return httpupstream.NewHTTPProxyDialer(upCfg, next), nil
}

// Start starts the local proxy.
func (g *Get) Start() (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	log.Info("getmode: starting")

	l, err := net.ListenTCP("tcp", g.listenAddr)
	if err != nil {
		return fmt.Errorf("getmode: listening on %s: %w", g.listenAddr, err)
	}

	g.listener = l
	g.done = make(chan struct{})

	go func() {
		defer close(g.done)

		if sErr := g.engine.Serve(l); sErr != nil {
			log.Error("getmode: %s", sErr)
		}
	}()

	log.Info("getmode: started successfully")

	return nil
}

// Addr returns the address of the local proxy or nil if it's not started.
func (g *Get) Addr() (addr net.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listener == nil {
		return nil
	}

	return g.listener.Addr()
}

// Close implements the [io.Closer] interface for *Get.
func (g *Get) Close() (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	log.Info("getmode: stopping")

	if g.listener != nil {
		err = g.listener.Close()
		<-g.done
		g.listener = nil
	}

	err = errors.Join(err, g.engine.Close())

	log.Info("getmode: stopped")

	return err
}
