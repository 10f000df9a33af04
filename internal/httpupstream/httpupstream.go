// Package httpupstream extends proxy with HTTP and HTTPS proxies support.  Get
// nodes use it to open tunnels through Give nodes: the CONNECT request can
// carry additional headers, e.g. the auth token.
package httpupstream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/getlantern/give/internal/version"
	"golang.org/x/net/proxy"
)

// ErrBadStatus is returned when the proxy answers CONNECT with anything but
// 200.  A Give node answers 404 when the auth token is wrong.
const ErrBadStatus errors.Error = "bad status code from proxy"

// HTTPProxyDialer implement proxy.Dialer and proxy.ContextDialer and adds
// HTTP and HTTPS proxies support.
type HTTPProxyDialer struct {
	next      proxy.ContextDialer
	tlsConfig *tls.Config
	userinfo  *url.Userinfo
	header    http.Header
	address   string
}

// type check
var _ proxy.Dialer = (*HTTPProxyDialer)(nil)
var _ proxy.ContextDialer = (*HTTPProxyDialer)(nil)

// init registers http and https schemes.
func init() {
	proxy.RegisterDialerType("http", HTTPProxyDialerFromURL)
	proxy.RegisterDialerType("https", HTTPProxyDialerFromURL)
}

// Config is the configuration of an *HTTPProxyDialer.
type Config struct {
	// TLSConfig is the TLS configuration used for the connection to the
	// proxy.  If nil, the connection to the proxy is not encrypted.
	TLSConfig *tls.Config

	// Userinfo is used for the Proxy-Authorization header, if set.
	Userinfo *url.Userinfo

	// Header contains additional headers of the CONNECT request.
	Header http.Header

	// Address is the proxy address in the host:port format.
	Address string
}

// NewHTTPProxyDialer creates a new instance of *HTTPProxyDialer.
func NewHTTPProxyDialer(cfg *Config, next proxy.Dialer) (d *HTTPProxyDialer) {
	return &HTTPProxyDialer{
		address:   cfg.Address,
		tlsConfig: cfg.TLSConfig,
		userinfo:  cfg.Userinfo,
		header:    cfg.Header,
		next:      maybeWrapWithContextDialer(next),
	}
}

// HTTPProxyDialerFromURL creates an instance of proxy.Dialer from an http:// or
// https:// URL.
func HTTPProxyDialerFromURL(u *url.URL, next proxy.Dialer) (d proxy.Dialer, err error) {
	host := u.Hostname()
	port := u.Port()
	cfg := &Config{
		Userinfo: u.User,
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		if port == "" {
			port = "80"
		}
	case "https":
		if port == "" {
			port = "443"
		}
		cfg.TLSConfig = &tls.Config{ServerName: host}
	default:
		return nil, fmt.Errorf("httpupstream: unsupported scheme %s", u.Scheme)
	}

	cfg.Address = net.JoinHostPort(host, port)

	return NewHTTPProxyDialer(cfg, next), nil
}

// Dial implements the proxy.Dialer interface for *HTTPProxyDialer.
func (d *HTTPProxyDialer) Dial(network, address string) (conn net.Conn, err error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext implements the proxy.ContextDialer interface for
// *HTTPProxyDialer.
func (d *HTTPProxyDialer) DialContext(
	ctx context.Context,
	network string,
	address string,
) (conn net.Conn, err error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("httpupstream: unsupported network %s", network)
	}

	conn, err = d.next.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, fmt.Errorf("httpupstream: proxy dialer is unable to make connection: %w", err)
	}

	if d.tlsConfig != nil {
		conn = tls.Client(conn, d.clientTLSConfig())
	}

	stopGuardEvent := make(chan struct{})
	guardErr := make(chan error, 1)
	go func() {
		select {
		case <-stopGuardEvent:
			close(guardErr)
		case <-ctx.Done():
			_ = conn.Close()
			guardErr <- ctx.Err()
		}
	}()

	var stopGuardOnce sync.Once
	stopGuard := func() {
		stopGuardOnce.Do(func() {
			close(stopGuardEvent)
		})
	}
	defer stopGuard()

	_, err = io.Copy(conn, d.connectRequest(address))
	if err != nil {
		log.OnCloserError(conn, log.DEBUG)

		return nil,
			fmt.Errorf(
				"httpupstream: unable to write proxy request for remote connection: %w",
				err,
			)
	}

	resp, err := readResponse(conn)
	if err != nil {
		log.OnCloserError(conn, log.DEBUG)

		return nil, fmt.Errorf("httpupstream: reading proxy response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.OnCloserError(conn, log.DEBUG)

		return nil, fmt.Errorf("httpupstream: %w: %d", ErrBadStatus, resp.StatusCode)
	}

	stopGuard()

	if err = <-guardErr; err != nil {
		return nil, fmt.Errorf("httpupstream: context error: %w", err)
	}

	return conn, nil
}

// clientTLSConfig returns the TLS configuration for the proxy connection with
// the server name filled in.
func (d *HTTPProxyDialer) clientTLSConfig() (conf *tls.Config) {
	conf = d.tlsConfig.Clone()
	if conf.ServerName == "" {
		hostname, err := netutil.SplitHost(d.address)
		if err != nil {
			hostname = d.address
		}
		conf.ServerName = hostname
	}

	return conf
}

// connectRequest returns the CONNECT request to address.  Additional headers
// are written in the sorted order.
func (d *HTTPProxyDialer) connectRequest(address string) (r io.Reader) {
	var reqBuf bytes.Buffer
	_, _ = fmt.Fprintf(&reqBuf, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", address, address)
	if d.userinfo != nil {
		_, _ = fmt.Fprintf(&reqBuf, "Proxy-Authorization: %s\r\n", basicAuthHeader(d.userinfo))
	}

	keys := make([]string, 0, len(d.header))
	for k := range d.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range d.header[k] {
			_, _ = fmt.Fprintf(&reqBuf, "%s: %s\r\n", k, v)
		}
	}

	_, _ = fmt.Fprintf(&reqBuf, "User-Agent: give/%s\r\n\r\n", version.VersionString)

	return &reqBuf
}

var (
	responseTerminator = []byte("\r\n\r\n")
)

// readResponse reads HTTP response from the specified reader.
func readResponse(r io.Reader) (*http.Response, error) {
	var respBuf bytes.Buffer
	b := make([]byte, 1)

	// The response is read byte-by-byte in order to avoid wrapping a network
	// connection with bufio.Reader.
	for !bytes.HasSuffix(respBuf.Bytes(), responseTerminator) {
		n, err := r.Read(b)

		if err != nil {
			return nil, fmt.Errorf("httpupstream: unable to read HTTP response: %w", err)
		}

		if n == 0 {
			continue
		}

		_, err = respBuf.Write(b)
		if err != nil {
			return nil, fmt.Errorf("httpupstream: unable to store byte into buffer: %w", err)
		}
	}

	resp, err := http.ReadResponse(bufio.NewReader(&respBuf), nil)
	if err != nil {
		return nil, fmt.Errorf("httpupstream: unable to decode proxy response: %w", err)
	}

	return resp, nil
}

// basicAuthHeader creates Authorization header  with the specified user info.
func basicAuthHeader(userinfo *url.Userinfo) string {
	username := userinfo.Username()
	password, _ := userinfo.Password()
	return "Basic " + base64.StdEncoding.EncodeToString(
		[]byte(username+":"+password))
}

// wrappedDialer wraps proxy.Dialer and adds DialContext implementation when
// necessary.
type wrappedDialer struct {
	d proxy.Dialer
}

// type check
var _ proxy.Dialer = (*wrappedDialer)(nil)
var _ proxy.ContextDialer = (*wrappedDialer)(nil)

// Dial implements the proxy.Dialer interface for *wrappedDialer.
func (wd wrappedDialer) Dial(net, address string) (net.Conn, error) {
	return wd.d.Dial(net, address)
}

// DialContext implements the proxy.ContextDialer interface for *wrappedDialer.
func (wd wrappedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var (
		conn net.Conn
		done = make(chan struct{}, 1)
		err  error
	)

	go func() {
		conn, err = wd.d.Dial(network, address)
		close(done)

		if conn != nil && ctx.Err() != nil {
			log.OnCloserError(conn, log.DEBUG)
		}
	}()

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-done:
	}

	return conn, err
}

// maybeWrapWithContextDialer wraps the specified proxy.Dialer and adds
// proxy.ContextDialer capabilities if they're missing.
func maybeWrapWithContextDialer(d proxy.Dialer) (cd proxy.ContextDialer) {
	if xd, ok := d.(proxy.ContextDialer); ok {
		return xd
	}
	return wrappedDialer{d}
}
