// File: transport/tls/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Encrypted reads and writes driven by per-direction engine goroutines.

package tls

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/momentics/hioload-net/api"
)

type readOp struct {
	count    int
	fully    bool
	deadline time.Time
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
	done *api.Completion[api.WriteResult]
}

// Write encrypts and sends all of p. The bytes are copied before Write returns.
func (c *Conn) Write(p []byte, onWritten func(api.WriteResult)) {
	op := &writeOp{data: append([]byte(nil), p...), done: api.NewCompletion(onWritten)}
	c.mu.Lock()
	if res, ok := c.refuse(); !ok {
		c.mu.Unlock()
		c.deliverWrite(op, res)
		return
	}
	if len(p) == 0 {
		c.mu.Unlock()
		c.deliverWrite(op, api.WriteResult{Status: api.StatusOK})
		return
	}
	c.writes.Add(op)
	start := !c.writeBusy
	c.writeBusy = true
	c.mu.Unlock()
	if start {
		go c.writeLoop()
	}
}

// ReadSomeBytes resolves with 1..count decrypted bytes.
func (c *Conn) ReadSomeBytes(count int, onRead func(api.ReadResult)) {
	c.enqueueRead(&readOp{count: count, done: api.NewCompletion(onRead)})
}

// ReadBytesFully resolves with exactly count decrypted bytes or a non-OK status.
func (c *Conn) ReadBytesFully(count int, timeout api.Seconds, onRead func(api.ReadResult)) {
	c.enqueueRead(&readOp{count: count, fully: true, deadline: timeout.Deadline(time.Now()), done: api.NewCompletion(onRead)})
}

func (c *Conn) enqueueRead(op *readOp) {
	c.mu.Lock()
	if res, ok := c.refuse(); !ok {
		c.mu.Unlock()
		c.deliverRead(op, api.ReadResult{Status: res.Status, Err: res.Err})
		return
	}
	switch {
	case op.count < 0 || (op.count == 0 && !op.fully):
		c.mu.Unlock()
		c.deliverRead(op, api.ReadResult{Status: api.StatusError, Err: api.ErrInvalidArgument})
		return
	case op.count == 0:
		c.mu.Unlock()
		c.deliverRead(op, api.ReadResult{Data: []byte{}, Status: api.StatusOK})
		return
	}
	c.reads.Add(op)
	start := !c.readBusy
	c.readBusy = true
	if !start && !op.deadline.IsZero() {
		op.timer = time.AfterFunc(time.Until(op.deadline), func() { c.expireQueued(op) })
	}
	c.mu.Unlock()
	if start {
		go c.readLoop()
	}
}

// expireQueued times out op while the engine still serves an earlier read.
// At the head of the queue the engine read deadline applies instead.
func (c *Conn) expireQueued(op *readOp) {
	c.mu.Lock()
	if c.reads.Length() == 0 || c.reads.Peek() == op || !unqueue(c.reads, op) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.deliverRead(op, api.ReadResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout})
}

// refuse allows application data only while established. Caller holds c.mu.
func (c *Conn) refuse() (api.WriteResult, bool) {
	switch c.state {
	case StateEstablished:
		return api.WriteResult{}, true
	case StateClosed:
		return api.WriteResult{Status: api.StatusClosed, Err: api.ErrClosed}, false
	default:
		return api.WriteResult{Status: api.StatusError, Err: api.ErrNotEstablished}, false
	}
}

func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		if c.state != StateEstablished || c.reads.Length() == 0 {
			c.readBusy = false
			c.mu.Unlock()
			return
		}
		op := c.reads.Peek().(*readOp)
		engine := c.engine
		c.mu.Unlock()

		_ = c.bio.SetReadDeadline(op.deadline)
		res := c.readOne(engine, op)
		_ = c.bio.SetReadDeadline(time.Time{})

		c.mu.Lock()
		if c.reads.Length() > 0 && c.reads.Peek() == op {
			c.reads.Remove()
		}
		op.disarm()
		c.mu.Unlock()
		c.deliverRead(op, res)
	}
}

func (c *Conn) readOne(engine io.Reader, op *readOp) api.ReadResult {
	buf := make([]byte, op.count)
	if !op.fully {
		n, err := engine.Read(buf)
		if n > 0 {
			return api.ReadResult{Data: buf[:n], Status: api.StatusOK}
		}
		return c.readFailure(err)
	}
	if _, err := io.ReadFull(engine, buf); err != nil {
		return c.readFailure(err)
	}
	return api.ReadResult{Data: buf, Status: api.StatusOK}
}

func (c *Conn) readFailure(err error) api.ReadResult {
	if err == nil {
		err = io.ErrNoProgress
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return api.ReadResult{Status: api.StatusTimeout, Err: api.ErrOperationTimeout}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return api.ReadResult{Status: api.StatusClosed, Err: io.EOF}
	case c.State() == StateClosed:
		return api.ReadResult{Status: api.StatusClosed, Err: api.ErrClosed}
	}
	c.fail(err)
	return api.ReadResult{Status: api.StatusError, Err: err}
}

func (c *Conn) writeLoop() {
	for {
		c.mu.Lock()
		if c.state != StateEstablished || c.writes.Length() == 0 {
			c.writeBusy = false
			c.mu.Unlock()
			return
		}
		op := c.writes.Peek().(*writeOp)
		engine := c.engine
		c.mu.Unlock()

		n, err := engine.Write(op.data)
		res := api.WriteResult{N: n, Status: api.StatusOK}
		if err != nil {
			if c.State() == StateClosed {
				res.Status, res.Err = api.StatusClosed, api.ErrClosed
			} else {
				c.fail(err)
				res.Status, res.Err = api.StatusError, err
			}
		}

		c.mu.Lock()
		if c.writes.Length() > 0 && c.writes.Peek() == op {
			c.writes.Remove()
		}
		c.mu.Unlock()
		c.deliverWrite(op, res)
	}
}
