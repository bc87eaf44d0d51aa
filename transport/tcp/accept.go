// File: transport/tcp/accept.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accept loop over a listening channel.

package tcp

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

// acceptBackoff delays the next accept attempt after a failed accept(2),
// e.g. EMFILE, so a connection stuck in the backlog does not spin the loop.
const acceptBackoff = 100 * time.Millisecond

type acceptOp struct {
	timeout  api.Seconds
	deadline time.Time // idle deadline, zero without timeout
	retryAt  time.Time // set while backing off after an accept error
	onAccept func(AcceptResult)
	done     *api.Completion[AcceptResult] // terminal result only
}

// wake is the deadline of the next registration. Caller holds c.mu.
func (op *acceptOp) wake() time.Time {
	if op.retryAt.IsZero() || (!op.deadline.IsZero() && op.deadline.Before(op.retryAt)) {
		return op.deadline
	}
	return op.retryAt
}

// Accept starts the accept loop, which runs until the channel is closed or
// the registry shuts down. onAccept receives every accepted connection
// (StatusOK), a StatusTimeout with a nil Conn whenever timeout elapses
// without a new connection, and a StatusError with a nil Conn for each
// failed accept(2). The loop re-arms after each of them. The final call
// carries StatusClosed. A zero timeout behaves like api.NoTimeout.
func (c *Conn) Accept(timeout api.Seconds, onAccept func(AcceptResult)) {
	if timeout == 0 {
		timeout = api.NoTimeout
	}
	op := &acceptOp{
		timeout:  timeout,
		deadline: timeout.Deadline(time.Now()),
		onAccept: onAccept,
		done:     api.NewCompletion(onAccept),
	}
	c.mu.Lock()
	switch {
	case c.state == stateClosed:
		c.mu.Unlock()
		c.finishAccept(op, AcceptResult{Status: api.StatusClosed, Err: api.ErrClosed})
		return
	case c.state != stateListening:
		c.mu.Unlock()
		c.finishAccept(op, AcceptResult{Status: api.StatusError, Err: api.ErrNotConnected})
		return
	case c.accept != nil:
		c.mu.Unlock()
		c.finishAccept(op, AcceptResult{Status: api.StatusError, Err: api.ErrAlreadyExists})
		return
	}
	c.accept = op
	c.mu.Unlock()
	c.pumpAccept(op)
}

func (c *Conn) pumpAccept(op *acceptOp) {
	for {
		c.mu.Lock()
		if c.accept != op {
			c.mu.Unlock()
			return
		}
		fd := c.fd
		backoff := !op.retryAt.IsZero()
		c.mu.Unlock()

		if !backoff {
			nfd, err := fd.Accept()
			switch {
			case err == nil:
				c.accepted(op, nfd)
				continue
			case errors.Is(err, api.ErrClosed):
				// Close is running and delivers the terminal result
				return
			case !errors.Is(err, socket.ErrWouldBlock):
				c.acceptFailed(op, err)
			}
		}

		c.mu.Lock()
		if c.accept != op {
			c.mu.Unlock()
			return
		}
		pending, err := c.reg.Register(fd.Sysfd(), reactor.Readable, op.wake(), func(sig reactor.Signal) {
			c.onAcceptSignal(op, sig)
		})
		c.mu.Unlock()
		if err != nil {
			c.onRegisterError(err)
			c.endAccept(op, AcceptResult{Status: resultFor(err), Err: err})
			return
		}
		if pending {
			return
		}
	}
}

func (c *Conn) onAcceptSignal(op *acceptOp, sig reactor.Signal) {
	switch sig {
	case reactor.SignalReady:
		c.pumpAccept(op)
	case reactor.SignalTimeout:
		now := time.Now()
		c.mu.Lock()
		if c.accept != op {
			c.mu.Unlock()
			return
		}
		idle := !op.deadline.IsZero() && !now.Before(op.deadline)
		op.retryAt = time.Time{}
		if idle {
			op.deadline = op.timeout.Deadline(now)
			c.notifyLocked(op, AcceptResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout})
		}
		c.mu.Unlock()
		c.pumpAccept(op)
	case reactor.SignalShutdown:
		_ = c.closeWith(api.ErrRegistryClosed)
	}
}

// acceptFailed reports a failed accept(2) and backs the loop off.
func (c *Conn) acceptFailed(op *acceptOp, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accept != op {
		return
	}
	c.lastErr = err
	op.retryAt = time.Now().Add(acceptBackoff)
	c.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", acceptBackoff))
	c.notifyLocked(op, AcceptResult{Status: api.StatusError, Err: err})
}

// accepted hands a new connection to the callback and restarts the idle deadline.
func (c *Conn) accepted(op *acceptOp, nfd *socket.FD) {
	child := adopt(c.reg, nfd)
	c.mu.Lock()
	live := c.accept == op && op.onAccept != nil
	if live {
		op.deadline = op.timeout.Deadline(time.Now())
		c.notifyLocked(op, AcceptResult{Conn: child, Status: api.StatusOK})
	}
	c.mu.Unlock()
	if !live {
		_ = child.Close()
		return
	}
	c.reg.Metrics().IncAccepted()
	c.log.Debug("accepted", zap.String("child", child.ID().String()), zap.Stringer("remote", child.RemoteAddr()))
}

// notifyLocked queues a non-terminal result. Caller holds c.mu and has checked
// c.accept == op, so the result is queued ahead of the terminal one.
func (c *Conn) notifyLocked(op *acceptOp, res AcceptResult) {
	if fn := op.onAccept; fn != nil {
		c.serial.Do(func() { fn(res) })
	}
}

// endAccept stops the loop with a terminal result when it cannot re-arm.
func (c *Conn) endAccept(op *acceptOp, res AcceptResult) {
	c.mu.Lock()
	if c.accept == op {
		c.accept = nil
	}
	c.mu.Unlock()
	if res.Err != nil && res.Status == api.StatusError {
		c.recordErr(res.Err)
		c.log.Debug("accept loop ended", zap.Error(res.Err))
	}
	c.finishAccept(op, res)
}

func (c *Conn) finishAccept(op *acceptOp, res AcceptResult) {
	if fn, ok := op.done.Claim(); ok {
		c.serial.Do(func() { fn(res) })
	}
}
