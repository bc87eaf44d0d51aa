// File: transport/tcp/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read and write operations with their per-direction drivers.

package tcp

import (
	"errors"
	"io"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/socket"
	"github.com/momentics/hioload-net/reactor"
)

// readOp is one queued read. fully ops accumulate into buf until count bytes arrived.
type readOp struct {
	count    int
	fully    bool
	deadline time.Time
	buf      []byte
	timer    *time.Timer // deadline while queued behind another read
	done     *api.Completion[api.ReadResult]
}

// disarm stops the queued-deadline timer. Caller holds c.mu.
func (op *readOp) disarm() {
	if op.timer != nil {
		op.timer.Stop()
	}
}

type writeOp struct {
	data []byte
	off  int
	done *api.Completion[api.WriteResult]
}

// Write sends all of p. The bytes are copied before Write returns.
func (c *Conn) Write(p []byte, onWritten func(api.WriteResult)) {
	op := &writeOp{data: append([]byte(nil), p...), done: api.NewCompletion(onWritten)}
	if len(p) == 0 {
		c.deliverWrite(op, api.WriteResult{Status: api.StatusOK})
		return
	}
	if !c.enqueueWrite(op) {
		return
	}
	c.pumpWrite()
}

// ReadSomeBytes resolves once between 1 and count bytes are available. It has no deadline.
func (c *Conn) ReadSomeBytes(count int, onRead func(api.ReadResult)) {
	c.ReadSomeBytesDeadline(count, time.Time{}, onRead)
}

// ReadSomeBytesDeadline is ReadSomeBytes bounded by an absolute deadline; the
// zero time waits forever.
func (c *Conn) ReadSomeBytesDeadline(count int, deadline time.Time, onRead func(api.ReadResult)) {
	op := &readOp{count: count, deadline: deadline, done: api.NewCompletion(onRead)}
	if count <= 0 {
		c.deliverRead(op, api.ReadResult{Status: api.StatusError, Err: api.ErrInvalidArgument})
		return
	}
	if c.enqueueRead(op) {
		c.pumpRead()
	}
}

// ReadBytesFully resolves with exactly count bytes. On timeout, peer EOF or
// error the partial bytes are discarded. api.NoTimeout waits forever.
func (c *Conn) ReadBytesFully(count int, timeout api.Seconds, onRead func(api.ReadResult)) {
	op := &readOp{count: count, fully: true, deadline: timeout.Deadline(time.Now()), done: api.NewCompletion(onRead)}
	switch {
	case count < 0:
		c.deliverRead(op, api.ReadResult{Status: api.StatusError, Err: api.ErrInvalidArgument})
		return
	case count == 0:
		c.deliverRead(op, api.ReadResult{Data: []byte{}, Status: api.StatusOK})
		return
	}
	op.buf = make([]byte, 0, count)
	if c.enqueueRead(op) {
		c.pumpRead()
	}
}

// enqueueRead queues op and reports whether the caller must start the driver.
func (c *Conn) enqueueRead(op *readOp) bool {
	c.mu.Lock()
	if res, ok := c.refuse(); !ok {
		c.mu.Unlock()
		c.deliverRead(op, api.ReadResult{Status: res.Status, Err: res.Err})
		return false
	}
	c.reads.Add(op)
	start := !c.readBusy
	c.readBusy = true
	if !start && !op.deadline.IsZero() {
		op.timer = time.AfterFunc(time.Until(op.deadline), func() { c.expireQueued(op) })
	}
	c.mu.Unlock()
	return start
}

// expireQueued times out op while it still waits behind another read. Once op
// heads the queue its deadline is enforced by the registry instead.
func (c *Conn) expireQueued(op *readOp) {
	c.mu.Lock()
	if c.reads.Length() == 0 || c.reads.Peek() == op || !unqueue(c.reads, op) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.deliverRead(op, api.ReadResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout})
}

func (c *Conn) enqueueWrite(op *writeOp) bool {
	c.mu.Lock()
	if res, ok := c.refuse(); !ok {
		c.mu.Unlock()
		c.deliverWrite(op, res)
		return false
	}
	c.writes.Add(op)
	start := !c.writeBusy
	c.writeBusy = true
	c.mu.Unlock()
	return start
}

// refuse checks the channel can carry data. Caller holds c.mu.
func (c *Conn) refuse() (api.WriteResult, bool) {
	switch c.state {
	case stateConnected:
		return api.WriteResult{}, true
	case stateClosed:
		return api.WriteResult{Status: api.StatusClosed, Err: api.ErrClosed}, false
	default:
		return api.WriteResult{Status: api.StatusError, Err: api.ErrNotConnected}, false
	}
}

// pumpRead drives the head read until the queue empties or a wait is armed.
// Only one goroutine runs it at a time (readBusy).
func (c *Conn) pumpRead() {
	for {
		c.mu.Lock()
		if c.state == stateClosed || c.reads.Length() == 0 {
			c.readBusy = false
			c.mu.Unlock()
			return
		}
		op := c.reads.Peek().(*readOp)
		fd := c.fd
		c.mu.Unlock()

		res, wait := c.stepRead(fd, op)
		if !wait {
			c.finishRead(op, res)
			continue
		}

		c.mu.Lock()
		if c.state == stateClosed {
			c.readBusy = false
			c.mu.Unlock()
			return
		}
		pending, err := c.reg.Register(fd.Sysfd(), reactor.Readable, op.deadline, c.onReadable)
		if err == nil && pending {
			c.readWait = op
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if err != nil {
			c.onRegisterError(err)
			c.finishRead(op, api.ReadResult{Status: resultFor(err), Err: err})
		}
	}
}

func (c *Conn) onReadable(sig reactor.Signal) {
	switch sig {
	case reactor.SignalReady:
		c.mu.Lock()
		c.readWait = nil
		c.mu.Unlock()
		c.pumpRead()
	case reactor.SignalTimeout:
		c.mu.Lock()
		op := c.readWait
		c.readWait = nil
		c.mu.Unlock()
		if op != nil {
			c.finishRead(op, api.ReadResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout})
		}
		c.pumpRead()
	case reactor.SignalShutdown:
		_ = c.closeWith(api.ErrRegistryClosed)
	}
}

// stepRead performs reads for op until it resolves or would block.
func (c *Conn) stepRead(fd *socket.FD, op *readOp) (api.ReadResult, bool) {
	if !op.fully {
		scratch := c.reg.Buffers().GetBuffer()
		defer c.reg.Buffers().PutBuffer(scratch)
		if op.count < len(scratch) {
			scratch = scratch[:op.count]
		}
		n, err := fd.Read(scratch)
		if err != nil {
			return c.readFailure(err)
		}
		if n == 0 {
			return api.ReadResult{Status: api.StatusClosed, Err: io.EOF}, false
		}
		c.reg.Metrics().AddRead(n)
		return api.ReadResult{Data: append([]byte(nil), scratch[:n]...), Status: api.StatusOK}, false
	}
	for len(op.buf) < op.count {
		n, err := fd.Read(op.buf[len(op.buf):op.count])
		if err != nil {
			return c.readFailure(err)
		}
		if n == 0 {
			op.buf = nil
			return api.ReadResult{Status: api.StatusClosed, Err: io.EOF}, false
		}
		c.reg.Metrics().AddRead(n)
		op.buf = op.buf[:len(op.buf)+n]
	}
	data := op.buf
	op.buf = nil
	return api.ReadResult{Data: data, Status: api.StatusOK}, false
}

func (c *Conn) readFailure(err error) (api.ReadResult, bool) {
	if errors.Is(err, socket.ErrWouldBlock) {
		return api.ReadResult{}, true
	}
	c.recordErr(err)
	return api.ReadResult{Status: resultFor(err), Err: err}, false
}

// finishRead pops op if it is still the head and delivers res.
func (c *Conn) finishRead(op *readOp, res api.ReadResult) {
	c.mu.Lock()
	if c.reads.Length() > 0 && c.reads.Peek() == op {
		c.reads.Remove()
	}
	op.disarm()
	c.mu.Unlock()
	if res.Status != api.StatusOK {
		res.Data = nil
	}
	c.deliverRead(op, res)
}

// pumpWrite mirrors pumpRead for the write queue.
func (c *Conn) pumpWrite() {
	for {
		c.mu.Lock()
		if c.state == stateClosed || c.writes.Length() == 0 {
			c.writeBusy = false
			c.mu.Unlock()
			return
		}
		op := c.writes.Peek().(*writeOp)
		fd := c.fd
		c.mu.Unlock()

		res, wait := c.stepWrite(fd, op)
		if !wait {
			c.finishWrite(op, res)
			continue
		}

		c.mu.Lock()
		if c.state == stateClosed {
			c.writeBusy = false
			c.mu.Unlock()
			return
		}
		pending, err := c.reg.Register(fd.Sysfd(), reactor.Writable, time.Time{}, c.onWritable)
		c.mu.Unlock()
		if err == nil && pending {
			return
		}
		if err != nil {
			c.onRegisterError(err)
			c.finishWrite(op, api.WriteResult{N: op.off, Status: resultFor(err), Err: err})
		}
	}
}

func (c *Conn) onWritable(sig reactor.Signal) {
	switch sig {
	case reactor.SignalReady:
		c.pumpWrite()
	case reactor.SignalShutdown:
		_ = c.closeWith(api.ErrRegistryClosed)
	}
}

func (c *Conn) stepWrite(fd *socket.FD, op *writeOp) (api.WriteResult, bool) {
	for op.off < len(op.data) {
		n, err := fd.Write(op.data[op.off:])
		if err != nil {
			if errors.Is(err, socket.ErrWouldBlock) {
				return api.WriteResult{}, true
			}
			c.recordErr(err)
			return api.WriteResult{N: op.off, Status: resultFor(err), Err: err}, false
		}
		c.reg.Metrics().AddWritten(n)
		op.off += n
	}
	return api.WriteResult{N: op.off, Status: api.StatusOK}, false
}

func (c *Conn) finishWrite(op *writeOp, res api.WriteResult) {
	c.mu.Lock()
	if c.writes.Length() > 0 && c.writes.Peek() == op {
		c.writes.Remove()
	}
	c.mu.Unlock()
	c.deliverWrite(op, res)
}
