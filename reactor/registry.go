// File: reactor/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry: watch table, deadline heap and poll worker loops.

package reactor

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/internal/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/pool"
)

// Interest selects the readiness a watch waits for.
type Interest uint8

const (
	Readable Interest = iota + 1
	Writable
)

func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	default:
		return fmt.Sprintf("interest(%d)", uint8(i))
	}
}

// Signal tells a ReadyFunc why its watch ended.
type Signal uint8

const (
	SignalReady Signal = iota
	SignalTimeout
	SignalCanceled
	SignalShutdown
)

func (s Signal) String() string {
	switch s {
	case SignalReady:
		return "ready"
	case SignalTimeout:
		return "timeout"
	case SignalCanceled:
		return "canceled"
	case SignalShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// ReadyFunc is invoked exactly once per watch, on a poll worker or on the
// goroutine calling Unregister/Close. It must not block.
type ReadyFunc func(Signal)

type watch struct {
	fd       int
	interest Interest
	deadline time.Time
	onReady  ReadyFunc
	index    int // position in the deadline heap, -1 when absent
}

// fdEntry is the per-descriptor state kept while the fd is attached to epoll.
type fdEntry struct {
	gen        uint32
	read       *watch
	write      *watch
	readReady  bool
	writeReady bool
}

func (e *fdEntry) slot(i Interest) **watch {
	if i == Readable {
		return &e.read
	}
	return &e.write
}

func (e *fdEntry) latch(i Interest) *bool {
	if i == Readable {
		return &e.readReady
	}
	return &e.writeReady
}

type firing struct {
	w   *watch
	sig Signal
}

// Registry multiplexes readiness and deadlines for many descriptors.
type Registry struct {
	cfg     control.Config
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes
	exec    *concurrency.Executor
	bufs    *pool.BytePool
	poll    poller

	mu        sync.Mutex
	fds       map[int]*fdEntry
	deadlines deadlineHeap
	nextGen   uint32
	watches   int
	closed    bool
	err       error

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a registry and starts its poll workers.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		cfg:    control.DefaultConfig(),
		log:    logging.Logger("reactor"),
		probes: control.NewDebugProbes(),
		fds:    make(map[int]*fdEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reactor config: %w", err)
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor init: %w", api.NewNetworkError("epoll_create", err))
	}
	r.poll = p
	r.bufs = pool.NewBytePool(r.cfg.ReadChunkSize)
	r.exec = concurrency.NewExecutor(r.cfg.CallbackWorkers, r.recovered)
	r.registerProbes()

	r.wg.Add(r.cfg.PollWorkers)
	for i := 0; i < r.cfg.PollWorkers; i++ {
		go r.loop(i)
	}
	r.log.Debug("registry started",
		zap.Int("poll_workers", r.cfg.PollWorkers),
		zap.Int("callback_workers", r.cfg.CallbackWorkers))
	return r, nil
}

// Register arms a one-shot watch for interest on fd. A zero deadline never
// expires. pending=false with a nil error means readiness was already latched
// and no watch was created: retry the syscall.
func (r *Registry) Register(fd int, interest Interest, deadline time.Time, onReady ReadyFunc) (pending bool, err error) {
	if onReady == nil || fd < 0 || (interest != Readable && interest != Writable) {
		return false, api.ErrInvalidArgument
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, api.ErrRegistryClosed
	}
	e := r.fds[fd]
	if e == nil {
		r.nextGen++
		if r.nextGen == 0 {
			r.nextGen = 1
		}
		e = &fdEntry{gen: r.nextGen}
		if err := r.poll.add(fd, e.gen); err != nil {
			r.mu.Unlock()
			return false, api.NewNetworkError("epoll_ctl", err)
		}
		r.fds[fd] = e
	}
	slot := e.slot(interest)
	if *slot != nil {
		r.mu.Unlock()
		return false, api.ErrAlreadyExists
	}
	if l := e.latch(interest); *l {
		*l = false
		r.mu.Unlock()
		return false, nil
	}
	w := &watch{fd: fd, interest: interest, deadline: deadline, onReady: onReady, index: -1}
	*slot = w
	r.watches++
	wake := false
	if !deadline.IsZero() {
		heap.Push(&r.deadlines, w)
		// a new earliest deadline must shorten some worker's wait
		wake = w.index == 0
	}
	r.mu.Unlock()

	r.metrics.IncRegistrations()
	if wake {
		_ = r.poll.wake()
	}
	return true, nil
}

// Unregister detaches fd and fires its pending watches with SignalCanceled.
// Call it before closing the descriptor. Unknown fds are ignored.
func (r *Registry) Unregister(fd int) {
	r.mu.Lock()
	e := r.fds[fd]
	if e == nil {
		r.mu.Unlock()
		return
	}
	delete(r.fds, fd)
	if err := r.poll.del(fd); err != nil {
		r.log.Debug("epoll del failed", zap.Int("fd", fd), zap.Error(err))
	}
	var fire []firing
	for _, w := range []*watch{e.read, e.write} {
		if w != nil {
			r.detach(w)
			fire = append(fire, firing{w, SignalCanceled})
		}
	}
	r.mu.Unlock()
	r.dispatch(fire)
}

// Close fires SignalShutdown on every pending watch, stops the workers,
// drains the callback executor and releases the poller. It must not be called
// from a completion callback. Safe to call more than once.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		fire := r.shutdown()
		_ = r.poll.wake()
		r.wg.Wait()
		r.dispatch(fire)
		r.exec.Close()
		err = r.poll.close()
		r.log.Debug("registry closed")
	})
	return err
}

// Submit runs task on the callback executor.
func (r *Registry) Submit(task func()) error {
	err := r.exec.Submit(task)
	if errors.Is(err, concurrency.ErrExecutorClosed) {
		return api.ErrRegistryClosed
	}
	return err
}

// Executor exposes the callback executor.
func (r *Registry) Executor() api.Executor { return r.exec }

// Buffers returns the shared read scratch pool sized by Config.ReadChunkSize.
func (r *Registry) Buffers() *pool.BytePool { return r.bufs }

func (r *Registry) Config() control.Config       { return r.cfg }
func (r *Registry) Metrics() *control.Metrics    { return r.metrics }
func (r *Registry) Logger() *zap.Logger          { return r.log }
func (r *Registry) Probes() *control.DebugProbes { return r.probes }

// Err reports the fatal poll error that shut the registry down, if any.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Closed reports whether the registry stopped accepting watches.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Pending returns the number of armed watches.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watches
}

func (r *Registry) loop(id int) {
	defer r.wg.Done()
	log := r.log.With(zap.Int("worker", id))
	if r.cfg.PinPollWorkers {
		r.pin(id, log)
	}
	log.Debug("poll worker started")
	w := r.poll.newWaiter(r.cfg.MaxEvents)
	events := make([]pollEvent, r.cfg.MaxEvents)
	var fire []firing
	for {
		timeout, closed := r.waitBound()
		if closed {
			// pass the wakeup on to the next blocked worker
			_ = r.poll.wake()
			log.Debug("poll worker stopped")
			return
		}
		n, err := w.wait(events, timeout)
		if err != nil {
			r.fail(err)
			_ = r.poll.wake()
			return
		}
		fire = r.collect(events[:n], fire[:0])
		r.dispatch(fire)
		for i := range fire {
			fire[i] = firing{}
		}
	}
}

// pin binds the worker's thread to one CPU, spreading workers round-robin.
// The thread stays locked until the goroutine exits.
func (r *Registry) pin(id int, log *zap.Logger) {
	runtime.LockOSThread()
	cpu, err := affinity.PinWorker(id)
	if err != nil {
		log.Warn("poll worker not pinned", zap.Error(err))
		return
	}
	log.Debug("poll worker pinned", zap.Int("cpu", cpu))
}

// waitBound returns the wait timeout in ms, rounded up so deadlines never fire early.
func (r *Registry) waitBound() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, true
	}
	w := r.deadlines.peek()
	if w == nil {
		return -1, false
	}
	d := time.Until(w.deadline)
	if d <= 0 {
		return 0, false
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms), false
}

// collect turns readiness events and expired deadlines into firings.
func (r *Registry) collect(events []pollEvent, fire []firing) []firing {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		e := r.fds[ev.fd]
		if e == nil || e.gen != ev.gen {
			continue
		}
		if ev.readable {
			fire = r.ready(e, Readable, fire)
		}
		if ev.writable {
			fire = r.ready(e, Writable, fire)
		}
	}
	now := time.Now()
	for {
		w := r.deadlines.peek()
		if w == nil || w.deadline.After(now) {
			break
		}
		heap.Pop(&r.deadlines)
		if e := r.fds[w.fd]; e != nil && *e.slot(w.interest) == w {
			*e.slot(w.interest) = nil
		}
		r.watches--
		fire = append(fire, firing{w, SignalTimeout})
	}
	return fire
}

func (r *Registry) ready(e *fdEntry, i Interest, fire []firing) []firing {
	slot := e.slot(i)
	if w := *slot; w != nil {
		*slot = nil
		r.deadlines.remove(w)
		r.watches--
		return append(fire, firing{w, SignalReady})
	}
	*e.latch(i) = true
	return fire
}

// detach drops w from the heap; the caller already cleared its slot.
func (r *Registry) detach(w *watch) {
	r.deadlines.remove(w)
	r.watches--
}

// shutdown marks the registry closed and returns every pending watch.
func (r *Registry) shutdown() []firing {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var fire []firing
	for fd, e := range r.fds {
		for _, w := range []*watch{e.read, e.write} {
			if w != nil {
				fire = append(fire, firing{w, SignalShutdown})
			}
		}
		_ = r.poll.del(fd)
	}
	r.fds = make(map[int]*fdEntry)
	r.deadlines = nil
	r.watches = 0
	return fire
}

func (r *Registry) fail(err error) {
	r.log.Error("poll failed, shutting registry down", zap.Error(err))
	r.mu.Lock()
	if r.err == nil {
		r.err = api.NewNetworkError("epoll_wait", err)
	}
	r.mu.Unlock()
	r.dispatch(r.shutdown())
}

func (r *Registry) dispatch(fire []firing) {
	for _, f := range fire {
		r.metrics.WatchResolved(resolution(f.sig))
		r.invoke(f.w.onReady, f.sig)
	}
}

func (r *Registry) invoke(fn ReadyFunc, sig Signal) {
	defer func() {
		if v := recover(); v != nil {
			r.recovered(v)
		}
	}()
	fn(sig)
}

func (r *Registry) recovered(v any) {
	r.metrics.IncPanics()
	r.log.Error("callback panic recovered", zap.Any("panic", v), zap.Stack("stack"))
}

func (r *Registry) registerProbes() {
	r.probes.RegisterProbe("reactor.watches", func() any { return r.Pending() })
	r.probes.RegisterProbe("reactor.fds", func() any {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.fds)
	})
	r.probes.RegisterProbe("reactor.executor", func() any { return r.exec.Stats() })
	control.RegisterPlatformProbes(r.probes)
}

func resolution(s Signal) string {
	switch s {
	case SignalReady:
		return "ready"
	case SignalTimeout:
		return "timeout"
	default:
		return "canceled"
	}
}
