// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Callback dispatch for hioload-net: a fixed worker Executor fed from an
// unbounded FIFO and per-channel Serial mailboxes that keep each channel's
// completions ordered while different channels run in parallel.
package concurrency
