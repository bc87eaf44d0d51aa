// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Capability contract shared by plaintext and TLS channels.

package api

// Stream is the byte-stream capability common to TCP and TLS channels.
// Every method returns immediately; the callback runs exactly once.
type Stream interface {
	// Write sends all of p, resuming on writability as needed.
	Write(p []byte, onWritten func(WriteResult))

	// ReadSomeBytes resolves as soon as 1..count bytes are available.
	ReadSomeBytes(count int, onRead func(ReadResult))

	// ReadBytesFully resolves with exactly count bytes, or a timeout/closed/error status.
	ReadBytesFully(count int, timeout Seconds, onRead func(ReadResult))

	// Close releases the channel and resolves any pending operation with StatusClosed.
	Close() error
}
