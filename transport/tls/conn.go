// File: transport/tls/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS channel state, construction, accessors and close.

package tls

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/internal/concurrency"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

// State is the session lifecycle position.
type State uint8

const (
	StateUnconnected State = iota
	StateConnecting
	StateHandshaking
	StateEstablished
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectResult is delivered once per Connect.
type ConnectResult struct {
	Conn   *Conn
	Status api.Status
	Err    error
}

// HandshakeResult is delivered once per BeginSSL.
type HandshakeResult struct {
	OK   bool
	Code int
	Err  error
}

var _ api.Stream = (*Conn)(nil)

// Conn is a TLS session over one TCP channel.
type Conn struct {
	tcp      *tcp.Conn
	cfg      *stdtls.Config
	isServer bool
	log      *zap.Logger
	metrics  *control.Metrics
	serial   *concurrency.Serial
	bio      *bio

	mu               sync.Mutex
	state            State
	engine           *stdtls.Conn
	handshakeTimeout time.Duration
	lastErr          error
	errCode          int
	connState        stdtls.ConnectionState

	reads     *queue.Queue // of *readOp
	writes    *queue.Queue // of *writeOp
	readBusy  bool
	writeBusy bool
}

// NewConn creates a client session on reg. cfg is cloned; nil means defaults.
func NewConn(reg *reactor.Registry, cfg *stdtls.Config) *Conn {
	return newConn(tcp.NewConn(reg), cfg, false, StateUnconnected)
}

// Client wraps an already connected TCP channel as the client side. Without
// a configured server name the peer IP is verified.
func Client(c *tcp.Conn, cfg *stdtls.Config) *Conn {
	t := newConn(c, cfg, false, StateConnecting)
	if a, ok := c.RemoteAddr().(*net.TCPAddr); ok && t.cfg.ServerName == "" {
		t.cfg.ServerName = a.IP.String()
	}
	return t
}

// Server wraps an accepted TCP channel as the server side.
func Server(c *tcp.Conn, cfg *stdtls.Config) *Conn {
	return newConn(c, cfg, true, StateConnecting)
}

func newConn(c *tcp.Conn, cfg *stdtls.Config, isServer bool, st State) *Conn {
	if cfg == nil {
		cfg = &stdtls.Config{}
	}
	reg := c.Registry()
	t := &Conn{
		tcp:      c,
		cfg:      cfg.Clone(),
		isServer: isServer,
		log:      reg.Logger().Named("tls").With(zap.String("conn_id", c.ID().String())),
		metrics:  reg.Metrics(),
		bio:      newBio(c),
		state:    st,
		reads:    queue.New(),
		writes:   queue.New(),
	}
	t.serial = concurrency.NewSerial(reg.Executor(), func(v any) {
		reg.Metrics().IncPanics()
		t.log.Error("completion callback panicked", zap.Any("panic", v))
	})
	return t
}

// Connect dials address:port over TCP. On success the state becomes
// StateConnecting and BeginSSL may run. The server name defaults to address.
func (c *Conn) Connect(address string, port int, timeout api.Seconds, onConnect func(ConnectResult)) {
	done := api.NewCompletion(onConnect)
	c.mu.Lock()
	if c.state != StateUnconnected {
		st := c.state
		c.mu.Unlock()
		status := api.StatusError
		err := api.ErrAlreadyExists
		if st == StateClosed {
			status, err = api.StatusClosed, api.ErrClosed
		}
		c.deliverConnect(done, ConnectResult{Status: status, Err: err})
		return
	}
	if c.cfg.ServerName == "" {
		c.cfg.ServerName, _, _ = strings.Cut(address, "%")
	}
	c.mu.Unlock()

	c.tcp.Connect(address, port, timeout, func(r tcp.ConnectResult) {
		res := ConnectResult{Status: r.Status, Err: r.Err}
		c.mu.Lock()
		if r.Status == api.StatusOK && c.state == StateUnconnected {
			c.state = StateConnecting
			res.Conn = c
		} else if r.Err != nil {
			c.lastErr = r.Err
			c.errCode = classify(r.Err)
		}
		c.mu.Unlock()
		c.deliverConnect(done, res)
	})
}

// SetDefaultVerifyPaths trusts the platform certificate store. It reports
// false when the store cannot be loaded.
func (c *Conn) SetDefaultVerifyPaths() bool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		c.log.Debug("system cert pool unavailable", zap.Error(err))
		return false
	}
	c.mu.Lock()
	c.cfg.RootCAs = pool
	c.mu.Unlock()
	return true
}

// SetHandshakeTimeout bounds the next handshake; zero disables the bound.
func (c *Conn) SetHandshakeTimeout(d time.Duration) {
	c.mu.Lock()
	c.handshakeTimeout = d
	c.mu.Unlock()
}

// Config exposes the cloned engine configuration for adjustment before BeginSSL.
func (c *Conn) Config() *stdtls.Config { return c.cfg }

// TCP returns the underlying channel.
func (c *Conn) TCP() *tcp.Conn { return c.tcp }

func (c *Conn) LocalAddr() net.Addr  { return c.tcp.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.tcp.RemoteAddr() }

// State reports the lifecycle position.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionState returns the negotiated parameters once established.
func (c *Conn) ConnectionState() (stdtls.ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return stdtls.ConnectionState{}, false
	}
	return c.connState, true
}

// PeerCertificate returns the verified leaf certificate of the peer, or nil.
func (c *Conn) PeerCertificate() *x509.Certificate {
	cs, ok := c.ConnectionState()
	if !ok || len(cs.PeerCertificates) == 0 {
		return nil
	}
	return cs.PeerCertificates[0]
}

// PeerPublicKeyBytes returns the DER SubjectPublicKeyInfo of the peer, or nil.
func (c *Conn) PeerPublicKeyBytes() []byte {
	cert := c.PeerCertificate()
	if cert == nil {
		return nil
	}
	return append([]byte(nil), cert.RawSubjectPublicKeyInfo...)
}

// ErrorCode returns the code of the last failure, CodeNone if there was none.
func (c *Conn) ErrorCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errCode
}

// LastError returns the last engine or transport failure.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close sends close_notify when established, closes the TCP channel and
// resolves pending operations with StatusClosed. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	established := c.state == StateEstablished
	c.state = StateClosed
	engine := c.engine
	reads := drain(c.reads)
	for _, op := range reads {
		op.(*readOp).disarm()
	}
	writes := drain(c.writes)
	c.mu.Unlock()

	for _, op := range reads {
		c.deliverRead(op.(*readOp), api.ReadResult{Status: api.StatusClosed, Err: api.ErrClosed})
	}
	for _, op := range writes {
		c.deliverWrite(op.(*writeOp), api.WriteResult{Status: api.StatusClosed, Err: api.ErrClosed})
	}
	if !established || engine == nil {
		return c.tcp.Close()
	}
	// the alert is written through the channel, so wait for it off this goroutine
	go func() {
		force := time.AfterFunc(closeNotifyTimeout, func() { _ = c.tcp.Close() })
		if err := engine.CloseWrite(); err != nil {
			c.log.Debug("close_notify failed", zap.Error(err))
		}
		force.Stop()
		_ = c.tcp.Close()
	}()
	return nil
}

const closeNotifyTimeout = 5 * time.Second

func (c *Conn) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.errCode = classify(err)
	c.mu.Unlock()
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

func (c *Conn) deliverConnect(done *api.Completion[ConnectResult], res ConnectResult) {
	if fn, ok := done.Claim(); ok {
		c.serial.Do(func() { fn(res) })
	}
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
