package give_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/getlantern/give/internal/auth"
	"github.com/getlantern/give/internal/filter"
	"github.com/getlantern/give/internal/forward"
	"github.com/getlantern/give/internal/give"
	"github.com/getlantern/give/internal/testutil"
	"github.com/getlantern/give/internal/udt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cr3t"

// okResponse is written by stubForwarder.
const okResponse = "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\nforwarded"

// stubForwarder records forwarded requests and answers them with okResponse.
type stubForwarder struct {
	mu   sync.Mutex
	reqs []*http.Request
}

func (f *stubForwarder) Forward(
	_ context.Context,
	req *http.Request,
	client net.Conn,
	_ io.Reader,
) (err error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	_, err = io.WriteString(client, okResponse)

	return err
}

func (f *stubForwarder) requests() (reqs []*http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*http.Request{}, f.reqs...)
}

// freeUDPPort returns a UDP port that is likely to be free.
func freeUDPPort(t *testing.T) (port int) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	return pc.LocalAddr().(*net.UDPAddr).Port
}

type testNode struct {
	give *give.Give
	fwd  *stubForwarder
	ks   *testutil.Keystore
}

func startGive(t *testing.T) (n *testNode) {
	t.Helper()

	ks := testutil.NewKeystore(t)
	fwd := &stubForwarder{}

	g, err := give.New(&give.Config{
		TLSConfig: ks.ServerConfig(),
		Forwarder: fwd,
		ListenIP:  net.IPv4(127, 0, 0, 1),
		AuthToken: testToken,
		UDTPort:   freeUDPPort(t),
	})
	require.NoError(t, err)

	require.NoError(t, g.Start())
	t.Cleanup(func() { assert.NoError(t, g.Close()) })

	return &testNode{give: g, fwd: fwd, ks: ks}
}

// exchange writes raw to conn and reads everything until the server closes
// the connection.
func exchange(t *testing.T, conn net.Conn, raw string) (resp []byte) {
	t.Helper()
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err := io.WriteString(conn, raw)
	require.NoError(t, err)

	resp, err = io.ReadAll(conn)
	require.NoError(t, err)

	return resp
}

func connectRequest(token string, withHeader bool) (raw string) {
	raw = "CONNECT example.org:443 HTTP/1.1\r\nHost: example.org:443\r\n"
	if withHeader {
		raw += auth.Header + ": " + token + "\r\n"
	}

	return raw + "Connection: close\r\n\r\n"
}

func (n *testNode) dialTLS(t *testing.T) (conn net.Conn) {
	t.Helper()

	conn, err := tls.Dial("tcp", n.give.HTTPSAddr().String(), n.ks.ClientConfig())
	require.NoError(t, err)

	return conn
}

func (n *testNode) dialUDT(t *testing.T) (conn net.Conn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := udt.Dial(ctx, n.give.UDTAddr().String(), n.ks.ClientConfig())
	require.NoError(t, err)

	return conn
}

func TestGive_plainTextAlways404(t *testing.T) {
	n := startGive(t)
	notFound := filter.NotFound().Bytes()

	requests := []string{
		"GET / HTTP/1.1\r\nConnection: close\r\n\r\n",
		"GET http://example.org/ HTTP/1.1\r\nHost: example.org\r\nConnection: close\r\n\r\n",
		"POST /submit HTTP/1.1\r\nHost: a\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi",
		connectRequest(testToken, true),
	}

	for _, raw := range requests {
		conn, err := net.Dial("tcp", n.give.HTTPAddr().String())
		require.NoError(t, err)

		assert.Equal(t, notFound, exchange(t, conn, raw))
	}

	assert.Empty(t, n.fwd.requests())
}

func TestGive_tlsEndpoint(t *testing.T) {
	n := startGive(t)
	notFound := filter.NotFound().Bytes()

	// Scenario: the right token is forwarded unmodified.
	resp := exchange(t, n.dialTLS(t), connectRequest(testToken, true))
	assert.Equal(t, okResponse, string(resp))

	reqs := n.fwd.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodConnect, reqs[0].Method)
	assert.Equal(t, "example.org:443", reqs[0].RequestURI)
	assert.Equal(t, testToken, reqs[0].Header.Get(auth.Header))

	rejected := []string{
		connectRequest("wrong", true),
		connectRequest("", true),
		connectRequest("", false),
		connectRequest("S3CR3T", true),
	}
	for _, raw := range rejected {
		assert.Equal(t, notFound, exchange(t, n.dialTLS(t), raw))
	}

	assert.Len(t, n.fwd.requests(), 1)
}

func TestGive_udtEndpoint(t *testing.T) {
	n := startGive(t)

	tlsAddr := n.give.HTTPSAddr().(*net.TCPAddr)
	udtAddr, ok := n.give.UDTAddr().(*net.UDPAddr)
	require.True(t, ok)

	assert.True(t, tlsAddr.IP.Equal(udtAddr.IP))

	resp := exchange(t, n.dialUDT(t), connectRequest(testToken, true))
	assert.Equal(t, okResponse, string(resp))

	resp = exchange(t, n.dialUDT(t), connectRequest("wrong", true))
	assert.Equal(t, filter.NotFound().Bytes(), resp)

	assert.Len(t, n.fwd.requests(), 1)
}

func TestGive_startFailureIsFatal(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	ks := testutil.NewKeystore(t)
	g, err := give.New(&give.Config{
		TLSConfig: ks.ServerConfig(),
		Forwarder: &stubForwarder{},
		ListenIP:  net.IPv4(127, 0, 0, 1),
		AuthToken: testToken,
		HTTPSPort: busy.Addr().(*net.TCPAddr).Port,
	})
	require.NoError(t, err)

	require.Error(t, g.Start())

	// Nothing is left listening.
	assert.Nil(t, g.HTTPAddr())
	assert.Nil(t, g.HTTPSAddr())
	assert.Nil(t, g.UDTAddr())
}

func TestGive_startTwice(t *testing.T) {
	n := startGive(t)

	assert.ErrorIs(t, n.give.Start(), give.ErrStarted)
}

func TestNew_validation(t *testing.T) {
	ks := testutil.NewKeystore(t)

	_, err := give.New(&give.Config{TLSConfig: ks.ServerConfig(), Forwarder: &stubForwarder{}})
	assert.ErrorIs(t, err, give.ErrNoToken)

	_, err = give.New(&give.Config{AuthToken: testToken, Forwarder: &stubForwarder{}})
	assert.ErrorIs(t, err, give.ErrNoCertificate)

	_, err = give.New(&give.Config{AuthToken: testToken, TLSConfig: ks.ServerConfig()})
	assert.ErrorIs(t, err, give.ErrNoForwarder)

	_, err = give.New(&give.Config{
		AuthToken: testToken,
		TLSConfig: ks.ServerConfig(),
		Forwarder: &stubForwarder{},
		UDTPort:   70000,
	})
	assert.ErrorIs(t, err, give.ErrBadPort)
}

func TestEndpointConfig_With(t *testing.T) {
	src := give.EndpointConfig{
		Name:      "src",
		Transport: give.TransportTLS,
		Addr:      &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 443},
		TLSConfig: &tls.Config{},
		Filters:   filter.Static(give.TLSFilter(testToken)),
	}

	dst := src.With("dst", give.TransportUDT, &net.TCPAddr{IP: src.Addr.IP, Port: 4443})

	assert.Equal(t, "dst", dst.Name)
	assert.Equal(t, give.TransportUDT, dst.Transport)
	assert.Equal(t, 4443, dst.Addr.Port)
	assert.Same(t, src.TLSConfig, dst.TLSConfig)

	// The source is left intact.
	assert.Equal(t, "src", src.Name)
	assert.Equal(t, 443, src.Addr.Port)
	assert.Equal(t, "udt", dst.Transport.String())
}

func TestGive_closeWithOpenTunnel(t *testing.T) {
	// The backend accepts the tunnel and never writes anything.
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, aErr := backend.Accept()
		if aErr == nil {
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		select {
		case c := <-accepted:
			_ = c.Close()
		default:
		}
	})

	fwd, err := forward.New(&forward.Config{})
	require.NoError(t, err)

	ks := testutil.NewKeystore(t)
	g, err := give.New(&give.Config{
		TLSConfig: ks.ServerConfig(),
		Forwarder: fwd,
		ListenIP:  net.IPv4(127, 0, 0, 1),
		AuthToken: testToken,
		UDTPort:   freeUDPPort(t),
	})
	require.NoError(t, err)
	require.NoError(t, g.Start())

	conn, err := tls.Dial("tcp", g.HTTPSAddr().String(), ks.ClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	target := backend.Addr().String()
	_, err = io.WriteString(conn, "CONNECT "+target+" HTTP/1.1\r\nHost: "+target+"\r\n"+auth.Header+": "+testToken+"\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	closed := make(chan error, 1)
	go func() { closed <- g.Close() }()

	select {
	case err = <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close is blocked by the open tunnel")
	}
}
