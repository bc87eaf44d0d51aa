// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the asynchronous TCP channel.
//
// Every operation returns at once and reports through a callback that runs
// exactly once (Accept: once per connection plus once for the terminal
// result). Callbacks of one channel are delivered in completion order on the
// registry's callback executor, never on the goroutine that issued the call.
//
// Reads complete in issue order, writes complete in issue order, and the two
// directions proceed independently. A read whose deadline passes while it is
// still queued behind another read times out at its deadline.
package tcp
