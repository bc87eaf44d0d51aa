// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller contract.

package reactor

// pollEvent is one readiness report for a registered descriptor.
type pollEvent struct {
	fd       int
	gen      uint32
	readable bool
	writable bool
}

// poller is the OS multiplexer behind a Registry.
type poller interface {
	// add attaches fd once for its whole lifetime; gen comes back in every event.
	add(fd int, gen uint32) error
	del(fd int) error
	// newWaiter returns per-goroutine wait state.
	newWaiter(maxEvents int) waiter
	// wake interrupts one blocked wait.
	wake() error
	close() error
}

type waiter interface {
	// wait blocks up to timeoutMs (-1 forever) and fills out.
	// Interrupted waits and wakeups return (0, nil).
	wait(out []pollEvent, timeoutMs int) (int, error)
}
