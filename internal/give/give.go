// Package give is the Give node: the relay side of the network.  It exposes
// three endpoints sharing one forwarding engine:
//
//   - plain HTTP, which answers 404 to everything;
//   - TLS, which forwards requests carrying the right auth token;
//   - UDT, which has the same policy as TLS but runs over an alternate
//     transport on the same address.
package give

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	golibserrors "github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/getlantern/give/internal/engine"
	"github.com/getlantern/give/internal/filter"
)

const (
	// ErrNoToken is returned when the auth token is not configured.
	ErrNoToken golibserrors.Error = "auth token is required"

	// ErrNoCertificate is returned when the TLS configuration has no
	// certificate.
	ErrNoCertificate golibserrors.Error = "tls certificate is required"

	// ErrNoForwarder is returned when the forwarding engine is not set.
	ErrNoForwarder golibserrors.Error = "forwarder is required"

	// ErrBadPort is returned for port numbers out of range.
	ErrBadPort golibserrors.Error = "bad port"

	// ErrStarted is returned when Start is called twice.
	ErrStarted golibserrors.Error = "already started"
)

// Endpoint names.
const (
	namePlain = "Give-PlainText"
	nameTLS   = "Give-TLS"
	nameUDT   = "Give-UDT"
)

// Config is the Give node configuration.
type Config struct {
	// TLSConfig contains the certificate of the node.  Client certificates
	// are never requested, trust is established with the auth token.
	TLSConfig *tls.Config

	// Forwarder relays the authorized requests.
	Forwarder engine.Forwarder

	// ListenIP is the IP address to listen on.  If nil, all local addresses
	// are used.
	ListenIP net.IP

	// AuthToken is the token Get nodes must present.
	AuthToken string

	// HTTPPort is the port of the plain HTTP endpoint.
	HTTPPort int

	// HTTPSPort is the port of the TLS endpoint.
	HTTPSPort int

	// UDTPort is the port of the UDT endpoint.
	UDTPort int

	// AcceptRate limits the number of connections per second each endpoint
	// starts handling.  If not set, there is no limit.
	AcceptRate float64
}

// listenerHandle is a started listener.
type listenerHandle struct {
	cfg    EndpointConfig
	l      net.Listener
	engine *engine.Engine
	done   chan struct{}
}

// close stops accepting connections and closes the active ones.
func (h *listenerHandle) close() (err error) {
	err = h.l.Close()
	<-h.done

	return errors.Join(err, h.engine.Close())
}

// Give manages the listeners of a Give node.
type Give struct {
	tlsConfig *tls.Config
	forwarder engine.Forwarder
	listenIP  net.IP
	authToken string

	// mu protects handles.
	mu      *sync.Mutex
	handles map[Transport]*listenerHandle

	httpPort   int
	httpsPort  int
	udtPort    int
	acceptRate float64
}

// type check
var _ io.Closer = (*Give)(nil)

// New creates a new instance of *Give.
func New(cfg *Config) (g *Give, err error) {
	switch {
	case cfg.AuthToken == "":
		return nil, fmt.Errorf("give: %w", ErrNoToken)
	case cfg.TLSConfig == nil || (len(cfg.TLSConfig.Certificates) == 0 && cfg.TLSConfig.GetCertificate == nil):
		return nil, fmt.Errorf("give: %w", ErrNoCertificate)
	case cfg.Forwarder == nil:
		return nil, fmt.Errorf("give: %w", ErrNoForwarder)
	}

	for _, p := range []int{cfg.HTTPPort, cfg.HTTPSPort, cfg.UDTPort} {
		if p < 0 || p > 65535 {
			return nil, fmt.Errorf("give: %w: %d", ErrBadPort, p)
		}
	}

	tlsConfig := cfg.TLSConfig.Clone()
	tlsConfig.ClientAuth = tls.NoClientCert

	return &Give{
		tlsConfig:  tlsConfig,
		forwarder:  cfg.Forwarder,
		listenIP:   cfg.ListenIP,
		authToken:  cfg.AuthToken,
		mu:         &sync.Mutex{},
		handles:    map[Transport]*listenerHandle{},
		httpPort:   cfg.HTTPPort,
		httpsPort:  cfg.HTTPSPort,
		udtPort:    cfg.UDTPort,
		acceptRate: cfg.AcceptRate,
	}, nil
}

// Start binds all the endpoints.  The UDT endpoint is bound after the TLS one,
// to the address the TLS listener has resolved to.  If any endpoint fails to
// start, the ones already started are closed and the error is returned.
func (g *Give) Start() (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.handles) > 0 {
		return fmt.Errorf("give: %w", ErrStarted)
	}

	log.Info("give: starting")

	defer func() {
		if err != nil {
			_ = g.closeLocked()
		}
	}()

	log.Info("give: starting plain text endpoint at TCP port %d", g.httpPort)
	plain := EndpointConfig{
		Name:      namePlain,
		Transport: TransportPlain,
		Addr:      &net.TCPAddr{IP: g.listenIP, Port: g.httpPort},
		Filters:   filter.Static(PlainTextFilter()),
	}
	if _, err = g.startLocked(plain); err != nil {
		return err
	}

	log.Info("give: starting TLS endpoint at TCP port %d", g.httpsPort)
	secure := EndpointConfig{
		Name:      nameTLS,
		Transport: TransportTLS,
		Addr:      &net.TCPAddr{IP: g.listenIP, Port: g.httpsPort},
		TLSConfig: g.tlsConfig,
		Filters:   filter.Static(TLSFilter(g.authToken)),
	}
	h, err := g.startLocked(secure)
	if err != nil {
		return err
	}

	resolved, ok := h.l.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("give: unexpected tls listener address %s", h.l.Addr())
	}

	log.Info("give: starting UDT endpoint at UDP port %d", g.udtPort)
	alt := secure.With(nameUDT, TransportUDT, &net.TCPAddr{
		IP:   resolved.IP,
		Port: g.udtPort,
		Zone: resolved.Zone,
	})
	if _, err = g.startLocked(alt); err != nil {
		return err
	}

	log.Info("give: started successfully")

	return nil
}

// startLocked binds the endpoint and starts serving it.  g.mu is expected to
// be locked.
func (g *Give) startLocked(cfg EndpointConfig) (h *listenerHandle, err error) {
	l, err := cfg.listen()
	if err != nil {
		return nil, fmt.Errorf("give: %w", err)
	}

	h = &listenerHandle{
		cfg: cfg,
		l:   l,
		engine: engine.New(&engine.Config{
			Filters:    cfg.Filters,
			Forwarder:  g.forwarder,
			Name:       cfg.Name,
			AcceptRate: g.acceptRate,
		}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)

		sErr := h.engine.Serve(h.l)
		if sErr != nil {
			log.Error("give: %s: %s", cfg.Name, sErr)
		}
	}()

	g.handles[cfg.Transport] = h

	return h, nil
}

// Close implements the [io.Closer] interface for *Give.
func (g *Give) Close() (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	log.Info("give: stopping")

	err = g.closeLocked()

	log.Info("give: stopped")

	return err
}

// closeLocked closes all the started listeners.  g.mu is expected to be
// locked.
func (g *Give) closeLocked() (err error) {
	var errs []error
	for t, h := range g.handles {
		if cErr := h.close(); cErr != nil {
			errs = append(errs, fmt.Errorf("give: closing %s: %w", h.cfg.Name, cErr))
		}

		delete(g.handles, t)
	}

	return errors.Join(errs...)
}

// addr returns the resolved address of the endpoint with the transport t or
// nil if it's not started.
func (g *Give) addr(t Transport) (addr net.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.handles[t]
	if !ok {
		return nil
	}

	return h.l.Addr()
}

// HTTPAddr returns the address of the plain HTTP endpoint.
func (g *Give) HTTPAddr() (addr net.Addr) { return g.addr(TransportPlain) }

// HTTPSAddr returns the address of the TLS endpoint.
func (g *Give) HTTPSAddr() (addr net.Addr) { return g.addr(TransportTLS) }

// UDTAddr returns the address of the UDT endpoint.
func (g *Give) UDTAddr() (addr net.Addr) { return g.addr(TransportUDT) }
