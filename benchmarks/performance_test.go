//go:build linux

// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-net components.

package benchmarks

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/facade"
	"github.com/momentics/hioload-net/internal/concurrency"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

// BenchmarkBytePool measures scratch buffer reuse.
func BenchmarkBytePool(b *testing.B) {
	p := pool.NewBytePool(64 * 1024)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.PutBuffer(p.GetBuffer())
		}
	})
}

// BenchmarkSerialMailbox measures ordered callback delivery through the executor.
func BenchmarkSerialMailbox(b *testing.B) {
	exec := concurrency.NewExecutor(4, nil)
	defer exec.Close()
	s := concurrency.NewSerial(exec, nil)
	done := make(chan struct{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Do(func() {})
	}
	s.Do(func() { close(done) })
	<-done
}

// BenchmarkRegistryReadyCycle measures one register/fire round per iteration.
func BenchmarkRegistryReadyCycle(b *testing.B) {
	reg, err := reactor.New()
	if err != nil {
		b.Fatal(err)
	}
	defer reg.Close()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		b.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := make(chan struct{}, 1)
	buf := make([]byte, 16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pending, err := reg.Register(fds[0], reactor.Readable, time.Time{}, func(reactor.Signal) { fired <- struct{}{} })
		if err != nil {
			b.Fatal(err)
		}
		unix.Write(fds[1], buf[:1])
		if pending {
			<-fired
		}
		unix.Read(fds[0], buf)
	}
}

// BenchmarkTCPEcho tests end-to-end facade round trips over loopback.
func BenchmarkTCPEcho(b *testing.B) {
	hioload, err := facade.New()
	if err != nil {
		b.Fatal(err)
	}
	defer hioload.Stop()

	l, err := hioload.Listen("127.0.0.1", 0, 0)
	if err != nil {
		b.Fatal(err)
	}
	defer l.Close()
	l.Accept(api.NoTimeout, func(r tcp.AcceptResult) {
		if r.Conn != nil {
			echo(r.Conn)
		}
	})

	port := l.LocalAddr().(*net.TCPAddr).Port
	res := <-tcp.ConnectAsync(hioload.NewTCP(), "127.0.0.1", port, 2)
	if res.Status != api.StatusOK {
		b.Fatal(res.Err)
	}
	defer res.Conn.Close()

	msg := make([]byte, 512)
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tcp.WriteAsync(res.Conn, msg)
		if r := <-tcp.ReadBytesFullyAsync(res.Conn, len(msg), 5); !r.OK() {
			b.Fatal(r.Status, r.Err)
		}
	}
}

func echo(c *tcp.Conn) {
	c.ReadSomeBytes(64*1024, func(r api.ReadResult) {
		if !r.OK() {
			_ = c.Close()
			return
		}
		c.Write(r.Data, func(api.WriteResult) {})
		echo(c)
	})
}
