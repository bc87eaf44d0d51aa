// File: transport/tls/bio.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// net.Conn view of an asynchronous TCP channel for the TLS engine.

package tls

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/transport/tcp"
)

// bio implements net.Conn by waiting on channel callbacks.
type bio struct {
	tcp *tcp.Conn

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*bio)(nil)

func newBio(c *tcp.Conn) *bio {
	return &bio{tcp: c}
}

// Read returns what one channel read yields. A passed deadline reports
// os.ErrDeadlineExceeded, which the engine treats as temporary.
func (b *bio) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	deadline := b.readDeadline
	b.mu.Unlock()
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return 0, os.ErrDeadlineExceeded
	}
	ch := make(chan api.ReadResult, 1)
	b.tcp.ReadSomeBytesDeadline(len(p), deadline, func(r api.ReadResult) { ch <- r })
	r := <-ch
	switch r.Status {
	case api.StatusOK:
		return copy(p, r.Data), nil
	case api.StatusTimeout:
		return 0, os.ErrDeadlineExceeded
	case api.StatusClosed:
		if r.Err == io.EOF {
			return 0, io.EOF
		}
		return 0, net.ErrClosed
	default:
		return 0, r.Err
	}
}

// Write hands p to the channel and waits until every byte is written.
func (b *bio) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ch := make(chan api.WriteResult, 1)
	b.tcp.Write(p, func(r api.WriteResult) { ch <- r })
	r := <-ch
	switch r.Status {
	case api.StatusOK:
		return r.N, nil
	case api.StatusClosed:
		return r.N, net.ErrClosed
	default:
		return r.N, r.Err
	}
}

func (b *bio) Close() error         { return b.tcp.Close() }
func (b *bio) LocalAddr() net.Addr  { return b.tcp.LocalAddr() }
func (b *bio) RemoteAddr() net.Addr { return b.tcp.RemoteAddr() }

func (b *bio) SetDeadline(t time.Time) error {
	b.mu.Lock()
	b.readDeadline, b.writeDeadline = t, t
	b.mu.Unlock()
	return nil
}

func (b *bio) SetReadDeadline(t time.Time) error {
	b.mu.Lock()
	b.readDeadline = t
	b.mu.Unlock()
	return nil
}

// SetWriteDeadline is recorded but channel writes have no deadline.
func (b *bio) SetWriteDeadline(t time.Time) error {
	b.mu.Lock()
	b.writeDeadline = t
	b.mu.Unlock()
	return nil
}
