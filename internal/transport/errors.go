package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrTimeout is returned when no datagram arrived before the deadline.
	ErrTimeout = errors.New("transport: timeout")
	// ErrClosed is returned by Receive after the listener was closed.
	ErrClosed = errors.New("transport: listener closed")
)

// BindError reports that the discovery socket could not be bound.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind udp port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// InUse reports whether the port was already taken by another socket.
func (e *BindError) InUse() bool {
	return errors.Is(e.Err, syscall.EADDRINUSE)
}

// Error is a socket-level failure during send or receive.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps raw socket errors onto the package sentinels.
func classify(op string, addr net.Addr, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	e := &Error{Op: op, Err: err}
	if addr != nil {
		e.Addr = addr.String()
	}
	return e
}
