// File: transport/tcp/connect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

type connectOp struct {
	deadline time.Time
	done     *api.Completion[ConnectResult]
}

// Connect dials address:port. Literal addresses are used directly; host
// names are resolved on a separate goroutine within the same deadline.
// The callback receives this channel on success.
func (c *Conn) Connect(address string, port int, timeout api.Seconds, onConnect func(ConnectResult)) {
	op := &connectOp{deadline: timeout.Deadline(time.Now()), done: api.NewCompletion(onConnect)}

	c.mu.Lock()
	switch {
	case c.state == stateClosed:
		c.mu.Unlock()
		c.finishConnect(op, ConnectResult{Status: api.StatusClosed, Err: api.ErrClosed})
		return
	case c.state != stateIdle && c.state != stateBound, c.connect != nil:
		c.mu.Unlock()
		c.finishConnect(op, ConnectResult{Status: api.StatusError, Err: api.ErrAlreadyExists})
		return
	}
	c.connect = op
	c.state = stateConnecting
	c.mu.Unlock()

	if socket.IsLiteral(address) {
		addr, err := socket.ResolveTCPAddr(context.Background(), address, port)
		c.dial(op, addr, err)
		return
	}
	go func() {
		ctx := context.Background()
		if !op.deadline.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, op.deadline)
			defer cancel()
		}
		addr, err := socket.ResolveTCPAddr(ctx, address, port)
		if errors.Is(err, context.DeadlineExceeded) {
			c.reg.Metrics().IncConnect("timeout")
			c.reset(op)
			c.finishConnect(op, ConnectResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout})
			return
		}
		c.dial(op, addr, err)
	}()
}

// dial opens the socket if needed and starts the non-blocking connect.
func (c *Conn) dial(op *connectOp, addr *net.TCPAddr, err error) {
	if err != nil {
		c.failConnect(op, api.NewNetworkError("resolve", err))
		return
	}
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	if c.fd == nil {
		fd, err := socket.Open(addr.IP)
		if err != nil {
			c.mu.Unlock()
			c.failConnect(op, err)
			return
		}
		c.fd = fd
	}
	fd := c.fd
	c.mu.Unlock()

	switch err := fd.Connect(addr); {
	case err == nil:
		c.connected(op)
	case errors.Is(err, socket.ErrInProgress):
		c.awaitConnect(op, fd)
	default:
		c.failConnect(op, err)
	}
}

func (c *Conn) awaitConnect(op *connectOp, fd *socket.FD) {
	for {
		c.mu.Lock()
		if c.state == stateClosed {
			c.mu.Unlock()
			return
		}
		pending, err := c.reg.Register(fd.Sysfd(), reactor.Writable, op.deadline, func(sig reactor.Signal) {
			c.onConnectSignal(op, fd, sig)
		})
		c.mu.Unlock()
		switch {
		case err != nil:
			c.onRegisterError(err)
			c.failConnect(op, err)
			return
		case pending:
			return
		}
		// writability was latched: inspect now
		if !c.checkConnect(op, fd) {
			continue
		}
		return
	}
}

func (c *Conn) onConnectSignal(op *connectOp, fd *socket.FD, sig reactor.Signal) {
	switch sig {
	case reactor.SignalReady:
		if !c.checkConnect(op, fd) {
			c.awaitConnect(op, fd)
		}
	case reactor.SignalTimeout:
		c.reg.Metrics().IncConnect("timeout")
		c.reset(op)
		c.finishConnect(op, ConnectResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout})
	case reactor.SignalShutdown:
		_ = c.closeWith(api.ErrRegistryClosed)
	}
}

// checkConnect resolves op if the connect finished; false means keep waiting.
func (c *Conn) checkConnect(op *connectOp, fd *socket.FD) bool {
	done, err := fd.ConnectResult()
	if !done {
		return false
	}
	if err != nil {
		c.failConnect(op, err)
	} else {
		c.connected(op)
	}
	return true
}

func (c *Conn) connected(op *connectOp) {
	c.mu.Lock()
	if c.state != stateConnecting || c.connect != op {
		c.mu.Unlock()
		return
	}
	c.state = stateConnected
	c.connect = nil
	c.mu.Unlock()
	c.reg.Metrics().IncConnect("ok")
	c.log.Debug("connected", zap.Stringer("remote", c.RemoteAddr()))
	c.finishConnect(op, ConnectResult{Conn: c, Status: api.StatusOK})
}

func (c *Conn) failConnect(op *connectOp, err error) {
	c.recordErr(err)
	c.reg.Metrics().IncConnect("error")
	c.log.Debug("connect failed", zap.Error(err))
	c.reset(op)
	c.finishConnect(op, ConnectResult{Status: resultFor(err), Err: err})
}

// reset returns a failed connecting channel to idle so it can be retried or closed.
func (c *Conn) reset(op *connectOp) {
	c.mu.Lock()
	if c.state != stateConnecting || c.connect != op {
		c.mu.Unlock()
		return
	}
	fd := c.fd
	c.fd = nil
	c.connect = nil
	c.state = stateIdle
	c.mu.Unlock()
	if fd != nil {
		c.reg.Unregister(fd.Sysfd())
		_ = fd.Close()
	}
}

func (c *Conn) finishConnect(op *connectOp, res ConnectResult) {
	if fn, ok := op.done.Claim(); ok {
		c.serial.Do(func() { fn(res) })
	}
}
