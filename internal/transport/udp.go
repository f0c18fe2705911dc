// Package transport holds the raw UDP primitives used by the fleet
// controller: one long-lived bound socket for discovery traffic and a fresh
// ephemeral socket for every outbound request.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// MaxDatagramSize is the largest UDP payload we read in one call.
const MaxDatagramSize = 65507

// Listener owns the bound discovery socket.
type Listener struct {
	conn        *net.UDPConn
	readTimeout time.Duration
}

// Listen binds a UDP socket on all interfaces with address reuse enabled.
// Port 0 picks a free port. readTimeout bounds every Receive call; zero
// means block until a datagram arrives or the socket is closed.
func Listen(ctx context.Context, port int, readTimeout time.Duration) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, &BindError{Port: port, Err: err}
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, &BindError{Port: port, Err: fmt.Errorf("unexpected packet conn %T", pc)}
	}
	return &Listener{conn: conn, readTimeout: readTimeout}, nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Receive waits for one datagram. It returns ErrTimeout when the read
// timeout elapses and ErrClosed once Close was called.
func (l *Listener) Receive(buf []byte) (int, *net.UDPAddr, error) {
	if l.readTimeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			return 0, nil, classify("set deadline", nil, err)
		}
	}
	n, addr, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, classify("receive", nil, err)
	}
	return n, addr, nil
}

// SendTo writes a datagram from the bound socket, used for replies to
// whoever sent us a request.
func (l *Listener) SendTo(addr *net.UDPAddr, payload []byte) error {
	if _, err := l.conn.WriteToUDP(payload, addr); err != nil {
		return classify("send", addr, err)
	}
	return nil
}

// Close releases the socket and unblocks a pending Receive.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// ResolveAddr builds a UDP address from a host and port.
func ResolveAddr(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, &Error{Op: "resolve", Addr: host, Err: err}
	}
	return addr, nil
}

// ResolveAddrString resolves a "host:port" string.
func ResolveAddrString(hostport string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", hostport)
	if err != nil {
		return nil, &Error{Op: "resolve", Addr: hostport, Err: err}
	}
	return addr, nil
}

// Exchange sends payload to addr from a fresh ephemeral socket and waits
// for one reply from the same host. The socket is closed before returning.
// It gives ErrTimeout when nothing arrives within timeout and ctx.Err()
// when ctx ends first.
func Exchange(ctx context.Context, addr *net.UDPAddr, payload []byte, timeout time.Duration) ([]byte, error) {
	return ExchangeMatch(ctx, addr, payload, timeout, nil)
}

// ExchangeMatch is Exchange that keeps waiting, within the same deadline,
// until match accepts a reply. A nil match accepts the first one.
func ExchangeMatch(ctx context.Context, addr *net.UDPAddr, payload []byte, timeout time.Duration, match func([]byte) bool) ([]byte, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, classify("open", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, classify("set deadline", addr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		return nil, classify("send", addr, err)
	}

	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classify("receive", addr, err)
		}
		// replies from other hosts are not ours
		if !from.IP.Equal(addr.IP) && !addr.IP.IsUnspecified() {
			continue
		}
		if match != nil && !match(buf[:n]) {
			continue
		}
		reply := make([]byte, n)
		copy(reply, buf[:n])
		return reply, nil
	}
}

// SendTo fires a single datagram from an ephemeral socket without waiting
// for an answer.
func SendTo(ctx context.Context, addr *net.UDPAddr, payload []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr.String())
	if err != nil {
		return classify("dial", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return classify("send", addr, err)
	}
	return nil
}
