// Package conn owns exactly one transport per Connection: it frames
// outbound command bytes, multiplexes concurrent callers onto that single
// socket through an in-memory FIFO, and demultiplexes inbound RESP tokens
// back to the caller that is waiting for them, in request order.
package conn

import (
	"context"
	"crypto/tls"
	"net"
)

// Transport is the opaque bidirectional byte stream a Connection drives.
// The core never names a concrete transport — TCP, Unix-domain socket, or
// a platform-native secure channel are all equally valid implementations.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Address names a node endpoint: either TCP (Host, Port) or a Unix-domain
// socket (Path).
type Address struct {
	Host string
	Port uint16
	Path string // non-empty selects a Unix-domain socket
}

func (a Address) String() string {
	if a.Path != "" {
		return a.Path
	}
	return net.JoinHostPort(a.Host, portString(a.Port))
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// ChannelFactory produces a Transport for a given node address. Consumers
// supply their own factory so the client core never imports a concrete
// dialer or TLS library.
type ChannelFactory interface {
	Dial(ctx context.Context, addr Address) (Transport, error)
}

// TCPFactory is the default ChannelFactory: plain TCP, or TLS when
// TLSConfig is non-nil.
type TCPFactory struct {
	DialTimeoutFn func() context.Context
	TLSConfig     *tls.Config
}

// Dial connects to addr over TCP, or over a Unix socket when addr.Path is
// set, upgrading to TLS first if TLSConfig is set.
func (f TCPFactory) Dial(ctx context.Context, addr Address) (Transport, error) {
	var d net.Dialer
	network := "tcp"
	target := addr.String()
	if addr.Path != "" {
		network = "unix"
		target = addr.Path
	}
	nc, err := d.DialContext(ctx, network, target)
	if err != nil {
		return nil, err
	}
	if f.TLSConfig != nil {
		tc := tls.Client(nc, f.TLSConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, err
		}
		return tc, nil
	}
	return nc, nil
}
