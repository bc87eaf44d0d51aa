// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor is the event registry: it multiplexes readiness of many
// non-blocking sockets onto a few poll goroutines (epoll, edge-triggered)
// and expires per-watch deadlines.
//
// A watch is one-shot. Its ReadyFunc runs exactly once with SignalReady,
// SignalTimeout, SignalCanceled (Unregister) or SignalShutdown (Close).
// Edges that arrive while no watch is armed are latched; Register consumes a
// latch by returning pending=false, telling the caller to retry its syscall.
package reactor
