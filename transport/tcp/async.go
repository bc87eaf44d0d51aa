// File: transport/tcp/async.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel-returning helpers for callers that prefer to select on results.

package tcp

import "github.com/momentics/hioload-net/api"

// ReadBytesFullyAsync is ReadBytesFully delivering into a buffered channel.
func ReadBytesFullyAsync(s api.Stream, count int, timeout api.Seconds) <-chan api.ReadResult {
	ch := make(chan api.ReadResult, 1)
	s.ReadBytesFully(count, timeout, func(r api.ReadResult) { ch <- r })
	return ch
}

// ReadSomeBytesAsync is ReadSomeBytes delivering into a buffered channel.
func ReadSomeBytesAsync(s api.Stream, count int) <-chan api.ReadResult {
	ch := make(chan api.ReadResult, 1)
	s.ReadSomeBytes(count, func(r api.ReadResult) { ch <- r })
	return ch
}

// WriteAsync is Write delivering into a buffered channel.
func WriteAsync(s api.Stream, p []byte) <-chan api.WriteResult {
	ch := make(chan api.WriteResult, 1)
	s.Write(p, func(r api.WriteResult) { ch <- r })
	return ch
}

// ConnectAsync is Connect delivering into a buffered channel.
func ConnectAsync(c *Conn, address string, port int, timeout api.Seconds) <-chan ConnectResult {
	ch := make(chan ConnectResult, 1)
	c.Connect(address, port, timeout, func(r ConnectResult) { ch <- r })
	return ch
}
