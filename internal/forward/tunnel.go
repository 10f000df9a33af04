package forward

import "sync/atomic"

var lastID uint64

// Tunnel represents a single forwarded request.
type Tunnel struct {
	// RemoteHost is the hostname the request is addressed to.
	RemoteHost string

	// RemoteAddr is the address the engine will connect to.  Basically, it is
	// just remoteHost:remotePort.
	RemoteAddr string

	// ID is a unique tunnel ID.
	ID uint64
}

// NewTunnel creates a new instance of *Tunnel.
func NewTunnel(remoteHost string, remoteAddr string) (t *Tunnel) {
	return &Tunnel{
		ID:         atomic.AddUint64(&lastID, 1),
		RemoteHost: remoteHost,
		RemoteAddr: remoteAddr,
	}
}
