// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin, exclusively owned wrapper around one non-blocking OS stream socket.
// Every transfer is a single syscall that reports ErrWouldBlock instead of
// waiting; readiness waiting belongs to the reactor package.
//
// Read, Write and Accept share a read lock and Close takes the write lock, so a
// descriptor number is never used after Close even if the kernel recycles it.
package socket
