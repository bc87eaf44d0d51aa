// File: transport/tcp/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel state, lifecycle and callback delivery.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/concurrency"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

type connState uint8

const (
	stateIdle connState = iota
	stateBound
	stateListening
	stateConnecting
	stateConnected
	stateClosed
)

func (s connState) String() string {
	return [...]string{"idle", "bound", "listening", "connecting", "connected", "closed"}[s]
}

var _ api.Stream = (*Conn)(nil)

// ConnectResult is delivered once per Connect. Conn is the connected channel on success.
type ConnectResult struct {
	Conn   *Conn
	Status api.Status
	Err    error
}

// AcceptResult carries one accepted connection (StatusOK) or the terminal
// status of the accept loop (Conn is nil).
type AcceptResult struct {
	Conn   *Conn
	Status api.Status
	Err    error
}

// Conn is an asynchronous TCP channel bound to a registry.
type Conn struct {
	id     uuid.UUID
	reg    *reactor.Registry
	log    *zap.Logger
	serial *concurrency.Serial

	mu      sync.Mutex
	fd      *socket.FD
	state   connState
	lastErr error

	reads     *queue.Queue // of *readOp
	writes    *queue.Queue // of *writeOp
	readBusy  bool
	writeBusy bool
	readWait  *readOp
	connect   *connectOp
	accept    *acceptOp
}

// NewConn creates an unconnected channel on reg.
func NewConn(reg *reactor.Registry) *Conn {
	c := &Conn{
		id:     uuid.New(),
		reg:    reg,
		reads:  queue.New(),
		writes: queue.New(),
	}
	c.log = reg.Logger().With(zap.String("conn_id", c.id.String()))
	c.serial = concurrency.NewSerial(reg.Executor(), func(v any) {
		reg.Metrics().IncPanics()
		c.log.Error("completion callback panicked", zap.Any("panic", v))
	})
	return c
}

// adopt wraps a descriptor returned by accept.
func adopt(reg *reactor.Registry, fd *socket.FD) *Conn {
	c := NewConn(reg)
	c.fd = fd
	c.state = stateConnected
	return c
}

// ID identifies the channel in logs and probes.
func (c *Conn) ID() uuid.UUID { return c.id }

// Registry returns the registry the channel waits on.
func (c *Conn) Registry() *reactor.Registry { return c.reg }

// Bind opens the socket and binds it to a literal address. An empty address
// binds every interface.
func (c *Conn) Bind(port int, address string) error {
	if !socket.IsLiteral(address) {
		return api.NewError(api.ErrCodeInvalidArgument, "bind needs a literal address").
			WithContext("address", address)
	}
	addr, err := socket.ResolveTCPAddr(context.Background(), address, port)
	if err != nil {
		return fmt.Errorf("bind %s: %w", address, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateClosed:
		return api.ErrClosed
	case stateIdle:
	default:
		return api.NewError(api.ErrCodeAlreadyExists, "channel already bound").
			WithContext("state", c.state.String())
	}
	fd, err := socket.Open(addr.IP)
	if err != nil {
		return c.setErr(err)
	}
	if err := fd.Bind(addr); err != nil {
		_ = fd.Close()
		return c.setErr(err)
	}
	c.fd = fd
	c.state = stateBound
	return nil
}

// Listen turns a bound channel into a listening one. backlog <= 0 uses the
// registry's configured backlog.
func (c *Conn) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = c.reg.Config().ListenBacklog
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateClosed:
		return api.ErrClosed
	case stateBound:
	default:
		return api.NewError(api.ErrCodeInvalidArgument, "listen requires a bound channel").
			WithContext("state", c.state.String())
	}
	if err := c.fd.Listen(backlog); err != nil {
		return c.setErr(err)
	}
	c.state = stateListening
	c.log.Debug("listening", zap.Stringer("addr", c.fd.LocalAddr()))
	return nil
}

// LastError returns the most recent OS or resolution failure.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LocalAddr returns the local endpoint, or nil before Bind/Connect.
func (c *Conn) LocalAddr() net.Addr {
	if fd := c.desc(); fd != nil {
		return fd.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the peer endpoint of a connected channel.
func (c *Conn) RemoteAddr() net.Addr {
	if fd := c.desc(); fd != nil {
		return fd.RemoteAddr()
	}
	return nil
}

// IsClosed reports whether Close ran.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// SetNoDelay toggles Nagle's algorithm on a connected channel.
func (c *Conn) SetNoDelay(on bool) error {
	fd := c.desc()
	if fd == nil {
		return api.ErrNotConnected
	}
	return fd.SetNoDelay(on)
}

// Close releases the socket and resolves every pending operation with
// StatusClosed. Safe to call more than once.
func (c *Conn) Close() error {
	return c.closeWith(api.ErrClosed)
}

// closeWith tears the channel down; cause is reported to pending operations.
func (c *Conn) closeWith(cause error) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	fd := c.fd
	reads := drain(c.reads)
	for _, op := range reads {
		op.(*readOp).disarm()
	}
	writes := drain(c.writes)
	conn, acc := c.connect, c.accept
	c.connect, c.accept, c.readWait = nil, nil, nil
	c.mu.Unlock()

	var err error
	if fd != nil {
		// detach before close so a recycled fd number never meets a stale entry
		c.reg.Unregister(fd.Sysfd())
		err = multierr.Append(err, fd.Close())
	}
	for _, op := range reads {
		c.deliverRead(op.(*readOp), api.ReadResult{Status: api.StatusClosed, Err: cause})
	}
	for _, op := range writes {
		c.deliverWrite(op.(*writeOp), api.WriteResult{Status: api.StatusClosed, Err: cause})
	}
	if conn != nil {
		c.finishConnect(conn, ConnectResult{Status: api.StatusClosed, Err: cause})
	}
	if acc != nil {
		c.finishAccept(acc, AcceptResult{Status: api.StatusClosed, Err: cause})
	}
	c.log.Debug("closed", zap.NamedError("cause", cause))
	return err
}

// desc returns the descriptor of an open channel.
func (c *Conn) desc() *socket.FD {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	return c.fd
}

// setErr records err as the last error and returns it. Caller holds c.mu.
func (c *Conn) setErr(err error) error {
	c.lastErr = err
	return err
}

func (c *Conn) recordErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// resultFor maps a failed syscall to a status.
func resultFor(err error) api.Status {
	switch {
	case errors.Is(err, api.ErrClosed), errors.Is(err, api.ErrRegistryClosed):
		return api.StatusClosed
	default:
		return api.StatusError
	}
}

// onRegisterError handles a failed Register: a closed registry closes the channel.
func (c *Conn) onRegisterError(err error) {
	if errors.Is(err, api.ErrRegistryClosed) {
		_ = c.closeWith(api.ErrRegistryClosed)
	}
}

func drain(q *queue.Queue) []any {
	out := make([]any, 0, q.Length())
	for q.Length() > 0 {
		out = append(out, q.Remove())
	}
	return out
}

// unqueue removes v from q and keeps the order of the rest.
func unqueue(q *queue.Queue, v any) bool {
	found := false
	for i, n := 0, q.Length(); i < n; i++ {
		x := q.Remove()
		if x == v && !found {
			found = true
			continue
		}
		q.Add(x)
	}
	return found
}

func (c *Conn) deliverRead(op *readOp, res api.ReadResult) {
	if fn, ok := op.done.Claim(); ok {
		c.serial.Do(func() { fn(res) })
	}
}

func (c *Conn) deliverWrite(op *writeOp, res api.WriteResult) {
	if fn, ok := op.done.Claim(); ok {
		c.serial.Do(func() { fn(res) })
	}
}
