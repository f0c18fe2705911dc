//go:build !unix

package transport

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
