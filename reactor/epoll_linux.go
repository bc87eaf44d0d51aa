//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll poller with an eventfd waker.

package reactor

import (
	"encoding/binary"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const edgeEvents = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET

type epollPoller struct {
	epfd int
	efd  int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{epfd: epfd, efd: efd}, nil
}

func (p *epollPoller) add(fd int, gen uint32) error {
	// generation rides in Pad so a recycled fd number cannot match stale events
	ev := unix.EpollEvent{Events: edgeEvents, Fd: int32(fd), Pad: int32(gen)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) del(fd int) error {
	var ev unix.EpollEvent
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) newWaiter(maxEvents int) waiter {
	return &epollWaiter{p: p, raw: make([]unix.EpollEvent, maxEvents)}
}

func (p *epollPoller) wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.efd, one[:])
	if err == unix.EAGAIN {
		// counter saturated: a wakeup is already pending
		return nil
	}
	return err
}

func (p *epollPoller) drain() {
	var buf [8]byte
	_, _ = unix.Read(p.efd, buf[:])
}

func (p *epollPoller) close() error {
	return multierr.Append(unix.Close(p.efd), unix.Close(p.epfd))
}

type epollWaiter struct {
	p   *epollPoller
	raw []unix.EpollEvent
}

func (w *epollWaiter) wait(out []pollEvent, timeoutMs int) (int, error) {
	raw := w.raw
	if len(out) < len(raw) {
		raw = raw[:len(out)]
	}
	n, err := unix.EpollWait(w.p.epfd, raw, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	k := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		if int(ev.Fd) == w.p.efd {
			w.p.drain()
			continue
		}
		out[k] = pollEvent{
			fd:       int(ev.Fd),
			gen:      uint32(ev.Pad),
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
		k++
	}
	return k, nil
}
