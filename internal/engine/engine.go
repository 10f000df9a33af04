// Package engine is the connection engine of a listener.  It accepts
// connections, reads HTTP request heads and runs them through the listener's
// filter before anything is handed to the forwarding engine.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/getlantern/give/internal/filter"
	"golang.org/x/time/rate"
)

const (
	// defaultReadTimeout is the default timeout for reading a request head.
	defaultReadTimeout = 10 * time.Second

	// maxDrainBytes is the maximum size of a short-circuited request body the
	// engine reads in order to keep the connection alive.
	maxDrainBytes = 64 * 1024

	// maxHeaderBytes is the maximum size of a request head, the same as
	// [http.DefaultMaxHeaderBytes].
	maxHeaderBytes = http.DefaultMaxHeaderBytes

	// acceptRetryDelay is the delay before accepting again after a temporary
	// accept error.
	acceptRetryDelay = 50 * time.Millisecond
)

// Forwarder is the forwarding engine invoked for the requests that passed the
// filter.  It takes over the client connection, the engine does not read from
// it after Forward is called.
type Forwarder interface {
	// Forward relays req and the rest of the client's traffic.  clientReader
	// contains the bytes the engine has already buffered from client.
	Forward(ctx context.Context, req *http.Request, client net.Conn, clientReader io.Reader) (err error)
}

// Config is the engine configuration.
type Config struct {
	// Filters creates the filter for every request head.
	Filters filter.Source

	// Forwarder handles the requests that passed the filter.
	Forwarder Forwarder

	// Name is used in the log messages.
	Name string

	// AcceptRate is the maximum number of connections per second the engine
	// starts handling.  If not set, there is no limit.
	AcceptRate float64

	// ReadTimeout is the timeout for reading a request head.  If not set, ten
	// seconds are used.
	ReadTimeout time.Duration
}

// Engine serves the connections accepted by one listener.
type Engine struct {
	filters   filter.Source
	forwarder Forwarder
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	// connsMu protects conns.
	connsMu *sync.Mutex
	conns   map[net.Conn]struct{}

	wg *sync.WaitGroup

	name        string
	readTimeout time.Duration
}

// type check
var _ io.Closer = (*Engine)(nil)

// New creates a new instance of *Engine.
func New(cfg *Config) (e *Engine) {
	ctx, cancel := context.WithCancel(context.Background())

	e = &Engine{
		filters:     cfg.Filters,
		forwarder:   cfg.Forwarder,
		ctx:         ctx,
		cancel:      cancel,
		connsMu:     &sync.Mutex{},
		conns:       map[net.Conn]struct{}{},
		wg:          &sync.WaitGroup{},
		name:        cfg.Name,
		readTimeout: cfg.ReadTimeout,
	}

	if e.filters == nil {
		e.filters = filter.Static(filter.Default)
	}

	if e.readTimeout == 0 {
		e.readTimeout = defaultReadTimeout
	}

	if cfg.AcceptRate > 0 {
		burst := int(cfg.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}

	return e
}

// Serve accepts connections from l until it is closed.  It returns nil when
// the listener has been closed.
func (e *Engine) Serve(l net.Listener) (err error) {
	log.Info("engine: %s: listening on %s", e.name, l.Addr())

	for {
		var conn net.Conn
		conn, err = l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Info("engine: %s: exiting listener loop as it has been closed", e.name)

				return nil
			}

			log.Debug("engine: %s: accept error: %v", e.name, err)
			time.Sleep(acceptRetryDelay)

			continue
		}

		if e.limiter != nil {
			if err = e.limiter.Wait(e.ctx); err != nil {
				log.OnCloserError(conn, log.DEBUG)

				continue
			}
		}

		if !e.track(conn) {
			log.OnCloserError(conn, log.DEBUG)

			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.untrack(conn)

			cErr := e.handleConnection(conn)
			if cErr != nil {
				log.Debug("engine: %s: error handling connection from %s: %v", e.name, conn.RemoteAddr(), cErr)
			}
		}()
	}
}

// Close implements the [io.Closer] interface for *Engine.  It closes all the
// active connections and waits until they're handled.  It does not close the
// listeners.
func (e *Engine) Close() (err error) {
	e.cancel()

	e.connsMu.Lock()
	for c := range e.conns {
		log.OnCloserError(c, log.DEBUG)
	}
	e.connsMu.Unlock()

	e.wg.Wait()

	return nil
}

// track adds conn to the set of the active connections.  It returns false if
// the engine is closed.
func (e *Engine) track(conn net.Conn) (ok bool) {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()

	if e.ctx.Err() != nil {
		return false
	}

	e.conns[conn] = struct{}{}

	return true
}

// untrack closes conn and removes it from the set of the active connections.
func (e *Engine) untrack(conn net.Conn) {
	log.OnCloserError(conn, log.DEBUG)

	e.connsMu.Lock()
	defer e.connsMu.Unlock()

	delete(e.conns, conn)
}

// handleConnection reads request heads from conn and runs them through the
// filter.  The loop ends when a request passes the filter and is handed to the
// forwarder, or when the client closes the connection.
func (e *Engine) handleConnection(conn net.Conn) (err error) {
	limited := &io.LimitedReader{R: conn}
	reader := bufio.NewReader(limited)

	for {
		if err = conn.SetReadDeadline(time.Now().Add(e.readTimeout)); err != nil {
			return fmt.Errorf("engine: failed to set read deadline: %w", err)
		}

		limited.N = maxHeaderBytes

		var req *http.Request
		req, err = http.ReadRequest(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("engine: failed to read request: %w", err)
		}

		limited.N = math.MaxInt64

		d := e.filters()(filter.ViewOf(req))
		if !d.ShortCircuited() {
			log.Debug("engine: %s: forwarding %s %s", e.name, req.Method, req.RequestURI)

			if err = conn.SetReadDeadline(time.Time{}); err != nil {
				return fmt.Errorf("engine: failed to remove read deadline: %w", err)
			}

			return e.forwarder.Forward(e.ctx, req, conn, reader)
		}

		log.Debug("engine: %s: %s %s: %d", e.name, req.Method, req.RequestURI, d.Response().Status)

		if err = d.Response().Write(conn); err != nil {
			return fmt.Errorf("engine: %w", err)
		}

		if req.Close {
			return nil
		}

		// The body of a rejected request is read under a fresh deadline so
		// that the next head on this connection can be parsed.
		if err = conn.SetReadDeadline(time.Now().Add(e.readTimeout)); err != nil {
			return fmt.Errorf("engine: failed to set read deadline: %w", err)
		}

		if !drain(req) {
			return nil
		}
	}
}

// drain reads and discards the body of a request that is not forwarded.  It
// returns false if the body is too large or can't be read and the connection
// must be closed.
func drain(req *http.Request) (ok bool) {
	if req.Body == nil {
		return true
	}

	n, err := io.CopyN(io.Discard, req.Body, maxDrainBytes+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}

	return n <= maxDrainBytes
}
