// File: transport/tls/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tls

import (
	stdtls "crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-net/api"
)

// BeginSSL runs the handshake on an engine goroutine and reports the outcome
// once. It requires StateConnecting; a failed handshake leaves the session in
// StateFailed where no application I/O is possible.
func (c *Conn) BeginSSL(onComplete func(HandshakeResult)) {
	done := api.NewCompletion(onComplete)
	c.mu.Lock()
	if c.state != StateConnecting {
		st := c.state
		c.mu.Unlock()
		err := api.ErrNotConnected
		switch st {
		case StateClosed:
			err = api.ErrClosed
		case StateHandshaking, StateEstablished:
			err = api.ErrAlreadyExists
		}
		c.deliverHandshake(done, HandshakeResult{Code: classify(err), Err: err})
		return
	}
	c.state = StateHandshaking
	if c.isServer {
		c.engine = stdtls.Server(c.bio, c.cfg)
	} else {
		c.engine = stdtls.Client(c.bio, c.cfg)
	}
	engine := c.engine
	timeout := c.handshakeTimeout
	c.mu.Unlock()

	go c.handshake(engine, timeout, done)
}

// Handshake is an alias of BeginSSL.
func (c *Conn) Handshake(onComplete func(HandshakeResult)) {
	c.BeginSSL(onComplete)
}

func (c *Conn) handshake(engine *stdtls.Conn, timeout time.Duration, done *api.Completion[HandshakeResult]) {
	if timeout > 0 {
		_ = c.bio.SetDeadline(time.Now().Add(timeout))
	}
	err := engine.Handshake()
	_ = c.bio.SetDeadline(time.Time{})

	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		err = api.ErrClosed
	case err != nil:
		c.state = StateFailed
	default:
		c.state = StateEstablished
		c.connState = engine.ConnectionState()
	}
	if err != nil {
		c.lastErr = err
		c.errCode = classify(err)
	}
	code := c.errCode
	c.mu.Unlock()

	if err != nil {
		c.metrics.IncHandshake("error")
		c.log.Debug("handshake failed", zap.Error(err), zap.Int("code", code))
		c.deliverHandshake(done, HandshakeResult{Code: code, Err: err})
		return
	}
	c.metrics.IncHandshake("ok")
	c.log.Debug("handshake complete", zap.Uint16("version", c.connState.Version))
	c.deliverHandshake(done, HandshakeResult{OK: true})
}

func (c *Conn) deliverHandshake(done *api.Completion[HandshakeResult], res HandshakeResult) {
	if fn, ok := done.Claim(); ok {
		c.serial.Do(func() { fn(res) })
	}
}
