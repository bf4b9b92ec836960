package core

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenSocket creates a non-blocking listening TCP socket bound to addr
// and returns it with the port actually bound.
func listenSocket(addr *net.TCPAddr) (int, int, error) {
	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := addr.IP.To4(); addr.IP == nil || ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa6.Addr[:], addr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (int, int, error) {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("%s %s: %w", op, addr, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	port := addr.Port
	switch a := bound.(type) {
	case *unix.SockaddrInet4:
		port = a.Port
	case *unix.SockaddrInet6:
		port = a.Port
	}

	return fd, port, nil
}

// configureConn prepares an accepted socket for the event loop
func configureConn(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	unix.CloseOnExec(fd)

	// TCP_NODELAY: responses are written in one piece
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nil
}

// newWakePipe returns the read and write ends of a non-blocking pipe used
// to interrupt the poller from other goroutines
func newWakePipe() (int, int, error) {
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		return -1, -1, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range p {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	return p[0], p[1], nil
}
