//go:build linux
// +build linux

// File: internal/socket/fd_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux non-blocking stream sockets via golang.org/x/sys/unix.

package socket

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

// FD is one open, non-blocking stream socket.
type FD struct {
	mu     sync.RWMutex
	sysfd  int
	family int
	closed bool
	laddr  *net.TCPAddr
	raddr  *net.TCPAddr
}

// Open creates a non-blocking TCP socket whose family matches ip.
// A nil ip selects IPv4.
func Open(ip net.IP) (*FD, error) {
	family := unix.AF_INET
	if !isIPv4(ip) {
		family = unix.AF_INET6
	}
	s, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.NewNetworkError("socket", err)
	}
	return &FD{sysfd: s, family: family}, nil
}

// Sysfd returns the descriptor number. Only meaningful while open.
func (fd *FD) Sysfd() int {
	return fd.sysfd
}

// LocalAddr returns the bound or connected local address, if known.
func (fd *FD) LocalAddr() net.Addr {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.laddr == nil {
		return nil
	}
	return fd.laddr
}

// RemoteAddr returns the peer address once connected.
func (fd *FD) RemoteAddr() net.Addr {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.raddr == nil {
		return nil
	}
	return fd.raddr
}

// Bind binds to addr with SO_REUSEADDR set.
func (fd *FD) Bind(addr *net.TCPAddr) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return api.ErrClosed
	}
	if err := unix.SetsockoptInt(fd.sysfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return api.NewNetworkError("setsockopt", err)
	}
	sa, err := toSockaddr(addr, fd.family)
	if err != nil {
		return err
	}
	if err := unix.Bind(fd.sysfd, sa); err != nil {
		return api.NewNetworkError("bind", err)
	}
	fd.laddr = fd.sockname()
	return nil
}

// Listen marks the socket passive.
func (fd *FD) Listen(backlog int) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return api.ErrClosed
	}
	if err := unix.Listen(fd.sysfd, backlog); err != nil {
		return api.NewNetworkError("listen", err)
	}
	fd.laddr = fd.sockname()
	return nil
}

// Connect starts a non-blocking connect. It returns nil when the connection
// is already established and ErrInProgress when writability must be awaited.
func (fd *FD) Connect(addr *net.TCPAddr) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return api.ErrClosed
	}
	sa, err := toSockaddr(addr, fd.family)
	if err != nil {
		return err
	}
	fd.raddr = addr
	switch err := unix.Connect(fd.sysfd, sa); err {
	case nil:
		fd.laddr = fd.sockname()
		return nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return ErrInProgress
	default:
		return api.NewNetworkError("connect", err)
	}
}

// ConnectResult inspects a pending connect after a writability event.
// done is false for a spurious wakeup; err is the connect failure, if any.
func (fd *FD) ConnectResult() (done bool, err error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return true, api.ErrClosed
	}
	soErr, err := unix.GetsockoptInt(fd.sysfd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return true, api.NewNetworkError("getsockopt", err)
	}
	switch e := syscall.Errno(soErr); e {
	case 0:
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	default:
		return true, api.NewNetworkError("connect", e)
	}
	if _, err := unix.Getpeername(fd.sysfd); err != nil {
		if err == unix.ENOTCONN {
			return false, nil
		}
		return true, api.NewNetworkError("getpeername", err)
	}
	fd.laddr = fd.sockname()
	return true, nil
}

// Accept takes one pending connection or reports ErrWouldBlock.
func (fd *FD) Accept() (*FD, error) {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.closed {
		return nil, api.ErrClosed
	}
	for {
		nfd, sa, err := unix.Accept4(fd.sysfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			c := &FD{sysfd: nfd, family: fd.family, raddr: fromSockaddr(sa)}
			c.laddr = c.sockname()
			return c, nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return nil, ErrWouldBlock
		default:
			return nil, api.NewNetworkError("accept", err)
		}
	}
}

// Read performs one read syscall. (0, nil) means the peer closed its side.
func (fd *FD) Read(p []byte) (int, error) {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.closed {
		return 0, api.ErrClosed
	}
	for {
		n, err := unix.Read(fd.sysfd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, api.NewNetworkError("read", err)
		}
	}
}

// Write performs one write syscall and returns the bytes accepted by the kernel.
func (fd *FD) Write(p []byte) (int, error) {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.closed {
		return 0, api.ErrClosed
	}
	for {
		n, err := unix.Write(fd.sysfd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, api.NewNetworkError("write", err)
		}
	}
}

// SetNoDelay toggles TCP_NODELAY.
func (fd *FD) SetNoDelay(on bool) error {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.closed {
		return api.ErrClosed
	}
	v := 0
	if on {
		v = 1
	}
	return api.NewNetworkError("setsockopt", unix.SetsockoptInt(fd.sysfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

// Close releases the handle. Closing twice is a no-op.
func (fd *FD) Close() error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.closed {
		return nil
	}
	fd.closed = true
	return api.NewNetworkError("close", unix.Close(fd.sysfd))
}

// Closed reports whether Close has run.
func (fd *FD) Closed() bool {
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	return fd.closed
}

func (fd *FD) sockname() *net.TCPAddr {
	sa, err := unix.Getsockname(fd.sysfd)
	if err != nil {
		return nil
	}
	return fromSockaddr(sa)
}

func toSockaddr(addr *net.TCPAddr, family int) (unix.Sockaddr, error) {
	if addr == nil {
		return nil, api.ErrInvalidArgument
	}
	switch family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if addr.IP != nil {
			ip4 := addr.IP.To4()
			if ip4 == nil {
				return nil, api.NewError(api.ErrCodeInvalidArgument, "ipv6 address on ipv4 socket").
					WithContext("addr", addr.String())
			}
			copy(sa.Addr[:], ip4)
		}
		return sa, nil
	default:
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		if addr.Zone != "" {
			if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, nil
	}
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		addr := &net.TCPAddr{IP: ip, Port: a.Port}
		if a.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(a.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	default:
		return nil
	}
}
