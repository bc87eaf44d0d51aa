// File: internal/concurrency/serial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serial is a per-channel mailbox: tasks run one at a time, in submission
// order, on whatever executor worker picks up the drain.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/api"
)

// Serial serializes tasks submitted to a shared executor.
type Serial struct {
	exec    api.Executor
	onPanic func(any)

	mu      sync.Mutex
	pending *queue.Queue // of TaskFunc
	running bool
}

// NewSerial binds a mailbox to exec. A nil exec runs drains on fresh goroutines.
func NewSerial(exec api.Executor, onPanic func(any)) *Serial {
	return &Serial{exec: exec, onPanic: onPanic, pending: queue.New()}
}

// Do enqueues fn. It never blocks and never runs fn on the caller's stack.
func (s *Serial) Do(fn func()) {
	s.mu.Lock()
	s.pending.Add(TaskFunc(fn))
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.exec == nil || s.exec.Submit(s.drain) != nil {
		// executor gone (shutdown): still deliver
		go s.drain()
	}
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if s.pending.Length() == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.pending.Remove().(TaskFunc)
		s.mu.Unlock()
		s.run(fn)
	}
}

func (s *Serial) run(fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r)
		}
	}()
	fn()
}
