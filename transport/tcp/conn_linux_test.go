//go:build linux

package tcp

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/reactor"
)

const waitLimit = 5 * time.Second

func newRegistry(t *testing.T) *reactor.Registry {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.PollWorkers = 2
	cfg.CallbackWorkers = 4
	cfg.ReadChunkSize = 4096
	r, err := reactor.New(reactor.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func listen(t *testing.T, reg *reactor.Registry) (*Conn, int) {
	t.Helper()
	l := NewConn(reg)
	require.NoError(t, l.Bind(0, "127.0.0.1"))
	require.NoError(t, l.Listen(0))
	t.Cleanup(func() { _ = l.Close() })
	return l, l.LocalAddr().(*net.TCPAddr).Port
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitLimit):
		t.Fatal("callback never ran")
		var zero T
		return zero
	}
}

// pair returns a connected client and the accepted server side.
func pair(t *testing.T, reg *reactor.Registry) (client, server *Conn) {
	t.Helper()
	l, port := listen(t, reg)
	accepted := make(chan AcceptResult, 4)
	l.Accept(api.NoTimeout, func(r AcceptResult) { accepted <- r })

	res := recv(t, ConnectAsync(NewConn(reg), "127.0.0.1", port, 2))
	require.Equal(t, api.StatusOK, res.Status, "connect: %v", res.Err)
	a := recv(t, accepted)
	require.Equal(t, api.StatusOK, a.Status)
	require.NotNil(t, a.Conn)
	t.Cleanup(func() {
		_ = res.Conn.Close()
		_ = a.Conn.Close()
	})
	return res.Conn, a.Conn
}

func TestConn_RoundTripSizes(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	for _, size := range []int{1, 17, 4096, 64 * 1024, 300 * 1024} {
		payload := make([]byte, size)
		_, err := rand.Read(payload)
		require.NoError(t, err)

		got := ReadBytesFullyAsync(server, size, 5)
		w := recv(t, WriteAsync(client, payload))
		require.Equal(t, api.StatusOK, w.Status, "size %d", size)
		assert.Equal(t, size, w.N)

		r := recv(t, got)
		require.Equal(t, api.StatusOK, r.Status, "size %d: %v", size, r.Err)
		assert.True(t, bytes.Equal(payload, r.Data), "size %d", size)
	}
}

func TestConn_ReadSomeBytesCapsCount(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	require.True(t, recv(t, WriteAsync(client, []byte("hello world"))).OK())
	r := recv(t, ReadSomeBytesAsync(server, 5))
	require.True(t, r.OK())
	assert.NotEmpty(t, r.Data)
	assert.LessOrEqual(t, len(r.Data), 5)
	assert.Equal(t, "hello"[:len(r.Data)], string(r.Data))
}

func TestConn_ReadBytesFullyTimesOut(t *testing.T) {
	reg := newRegistry(t)
	_, server := pair(t, reg)

	start := time.Now()
	ch := ReadBytesFullyAsync(server, 1, 2.0)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "caller must not block")

	r := recv(t, ch)
	assert.Equal(t, api.StatusTimeout, r.Status)
	assert.ErrorIs(t, r.Err, api.ErrOperationTimeout)
	assert.Nil(t, r.Data)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestConn_PartialFullyReadDiscardedOnTimeout(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	require.True(t, recv(t, WriteAsync(client, []byte("abc"))).OK())
	r := recv(t, ReadBytesFullyAsync(server, 10, 0.2))
	assert.Equal(t, api.StatusTimeout, r.Status)
	assert.Nil(t, r.Data)
}

func TestConn_WritesArriveInOrder(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	a := bytes.Repeat([]byte{'A'}, 200*1024)
	b := bytes.Repeat([]byte{'B'}, 1024)
	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	client.Write(a, func(r api.WriteResult) {
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
		wg.Done()
	})
	client.Write(b, func(r api.WriteResult) {
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
		wg.Done()
	})

	r := recv(t, ReadBytesFullyAsync(server, len(a)+len(b), 5))
	require.True(t, r.OK(), "%v", r.Err)
	assert.True(t, bytes.Equal(a, r.Data[:len(a)]))
	assert.True(t, bytes.Equal(b, r.Data[len(a):]))
	wg.Wait()
	assert.Equal(t, []string{"A", "B"}, order)
}

func TestConn_QueuedReadsCompleteInIssueOrder(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	first := ReadBytesFullyAsync(server, 3, 5)
	second := ReadBytesFullyAsync(server, 3, 5)
	require.True(t, recv(t, WriteAsync(client, []byte("onetwo"))).OK())
	assert.Equal(t, "one", string(recv(t, first).Data))
	assert.Equal(t, "two", string(recv(t, second).Data))
}

func TestConn_QueuedReadTimesOutBehindOpenRead(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	head := ReadSomeBytesAsync(server, 8)
	start := time.Now()
	queued := ReadBytesFullyAsync(server, 1, 0.3)

	r := recv(t, queued)
	assert.Equal(t, api.StatusTimeout, r.Status)
	assert.ErrorIs(t, r.Err, api.ErrOperationTimeout)
	assert.Nil(t, r.Data)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	// the head read and later reads are unaffected
	require.True(t, recv(t, WriteAsync(client, []byte("x"))).OK())
	h := recv(t, head)
	require.True(t, h.OK())
	assert.Equal(t, "x", string(h.Data))
	require.True(t, recv(t, WriteAsync(client, []byte("yz"))).OK())
	a := recv(t, ReadBytesFullyAsync(server, 2, 5))
	require.True(t, a.OK(), "%v", a.Err)
	assert.Equal(t, "yz", string(a.Data))
}

func TestConn_PeerCloseIsEOF(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	ch := ReadBytesFullyAsync(server, 4, api.NoTimeout)
	require.True(t, recv(t, WriteAsync(client, []byte("ab"))).OK())
	require.NoError(t, client.Close())

	r := recv(t, ch)
	assert.Equal(t, api.StatusClosed, r.Status)
	assert.ErrorIs(t, r.Err, io.EOF)
	assert.Nil(t, r.Data)
}

func TestConn_CloseResolvesPendingOnce(t *testing.T) {
	reg := newRegistry(t)
	_, server := pair(t, reg)

	var calls atomic.Int32
	results := make(chan api.ReadResult, 4)
	for i := 0; i < 2; i++ {
		server.ReadSomeBytes(8, func(r api.ReadResult) {
			calls.Add(1)
			results <- r
		})
	}
	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	assert.True(t, server.IsClosed())

	for i := 0; i < 2; i++ {
		r := recv(t, results)
		assert.Equal(t, api.StatusClosed, r.Status)
		assert.ErrorIs(t, r.Err, api.ErrClosed)
	}
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())

	// operations after close resolve immediately
	w := recv(t, WriteAsync(server, []byte("x")))
	assert.Equal(t, api.StatusClosed, w.Status)
}

func TestConn_AcceptLoopPersists(t *testing.T) {
	reg := newRegistry(t)
	l, port := listen(t, reg)

	accepted := make(chan AcceptResult, 16)
	l.Accept(api.NoTimeout, func(r AcceptResult) { accepted <- r })

	const n = 5
	for i := 0; i < n; i++ {
		res := recv(t, ConnectAsync(NewConn(reg), "127.0.0.1", port, 2))
		require.Equal(t, api.StatusOK, res.Status)
		defer res.Conn.Close()
		a := recv(t, accepted)
		require.Equal(t, api.StatusOK, a.Status)
		require.NotNil(t, a.Conn)
		_ = a.Conn.Close()
	}

	require.NoError(t, l.Close())
	end := recv(t, accepted)
	assert.Equal(t, api.StatusClosed, end.Status)
	assert.Nil(t, end.Conn)
}

// nextAccept returns the first result on ch whose status is not skip.
func nextAccept(t *testing.T, ch <-chan AcceptResult, skip api.Status) AcceptResult {
	t.Helper()
	for {
		if r := recv(t, ch); r.Status != skip {
			return r
		}
	}
}

func TestConn_AcceptIdleTimeoutReArms(t *testing.T) {
	reg := newRegistry(t)
	l, port := listen(t, reg)

	accepted := make(chan AcceptResult, 64)
	l.Accept(0.1, func(r AcceptResult) { accepted <- r })

	start := time.Now()
	r := recv(t, accepted)
	assert.Equal(t, api.StatusTimeout, r.Status)
	assert.ErrorIs(t, r.Err, api.ErrOperationTimeout)
	assert.Nil(t, r.Conn)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, l.IsClosed())

	// the idle report repeats while nothing arrives
	r = recv(t, accepted)
	assert.Equal(t, api.StatusTimeout, r.Status)

	// a connection after the timeouts is still accepted
	res := recv(t, ConnectAsync(NewConn(reg), "127.0.0.1", port, 2))
	require.Equal(t, api.StatusOK, res.Status)
	defer res.Conn.Close()
	a := nextAccept(t, accepted, api.StatusTimeout)
	require.Equal(t, api.StatusOK, a.Status)
	require.NotNil(t, a.Conn)
	_ = a.Conn.Close()

	require.NoError(t, l.Close())
	end := nextAccept(t, accepted, api.StatusTimeout)
	assert.Equal(t, api.StatusClosed, end.Status)
	select {
	case extra := <-accepted:
		t.Fatalf("result after terminal status: %v", extra.Status)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestConn_AcceptErrorReArms(t *testing.T) {
	reg := newRegistry(t)
	l, port := listen(t, reg)

	// complete a handshake into the backlog before fds run out
	peer, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer peer.Close()

	var orig unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &orig))
	lowest, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Close(lowest))
	// the lowest free descriptor becomes the limit: accept4 gets EMFILE
	tight := orig
	tight.Cur = uint64(lowest)
	require.NoError(t, unix.Setrlimit(unix.RLIMIT_NOFILE, &tight))
	restored := false
	restore := func() {
		if !restored {
			restored = true
			require.NoError(t, unix.Setrlimit(unix.RLIMIT_NOFILE, &orig))
		}
	}
	defer restore()

	accepted := make(chan AcceptResult, 64)
	l.Accept(api.NoTimeout, func(r AcceptResult) { accepted <- r })

	r := recv(t, accepted)
	restore()
	require.Equal(t, api.StatusError, r.Status)
	assert.Nil(t, r.Conn)
	assert.ErrorIs(t, r.Err, syscall.EMFILE)
	assert.ErrorIs(t, l.LastError(), syscall.EMFILE)
	assert.False(t, l.IsClosed())

	// after the backoff the pending connection is picked up
	a := nextAccept(t, accepted, api.StatusError)
	require.Equal(t, api.StatusOK, a.Status)
	require.NotNil(t, a.Conn)
	_ = a.Conn.Close()
}

func TestConn_ConnectRefused(t *testing.T) {
	reg := newRegistry(t)
	l, port := listen(t, reg)
	require.NoError(t, l.Close())

	c := NewConn(reg)
	defer c.Close()
	res := recv(t, ConnectAsync(c, "127.0.0.1", port, 2))
	assert.Equal(t, api.StatusError, res.Status)
	assert.Nil(t, res.Conn)
	var ne *api.NetworkError
	assert.ErrorAs(t, res.Err, &ne)
	assert.Equal(t, res.Err, c.LastError())
}

func TestConn_OperationsNeedConnection(t *testing.T) {
	reg := newRegistry(t)
	c := NewConn(reg)

	r := recv(t, ReadSomeBytesAsync(c, 4))
	assert.Equal(t, api.StatusError, r.Status)
	assert.ErrorIs(t, r.Err, api.ErrNotConnected)

	assert.Error(t, c.Listen(0), "listen before bind")
	assert.Error(t, c.Bind(0, "example.com"))
	require.NoError(t, c.Bind(0, "127.0.0.1"))
	assert.Error(t, c.Bind(0, "127.0.0.1"))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Listen(0), api.ErrClosed)
}

func TestConn_RegistryShutdownClosesChannel(t *testing.T) {
	cfg := control.DefaultConfig()
	reg, err := reactor.New(reactor.WithConfig(cfg))
	require.NoError(t, err)
	_, server := pair(t, reg)

	ch := ReadBytesFullyAsync(server, 1, api.NoTimeout)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Close())

	r := recv(t, ch)
	assert.Equal(t, api.StatusClosed, r.Status)
	assert.ErrorIs(t, r.Err, api.ErrRegistryClosed)
	assert.True(t, server.IsClosed())
}

func TestConn_NestedContinuations(t *testing.T) {
	reg := newRegistry(t)
	client, server := pair(t, reg)

	// echo one message back from inside callbacks
	server.ReadBytesFully(4, 5, func(r api.ReadResult) {
		if !r.OK() {
			return
		}
		server.Write(r.Data, func(api.WriteResult) {})
	})
	done := make(chan string, 1)
	client.Write([]byte("ping"), func(w api.WriteResult) {
		client.ReadBytesFully(4, 5, func(r api.ReadResult) { done <- string(r.Data) })
	})
	assert.Equal(t, "ping", recv(t, done))
}
