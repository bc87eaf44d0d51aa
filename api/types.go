// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timeouts, completion statuses and result payloads shared by TCP and TLS channels.

package api

import (
	"math"
	"time"
)

// Seconds is a timeout expressed in (fractional) seconds.
type Seconds float64

// NoTimeout waits indefinitely. Any negative value behaves the same way.
const NoTimeout Seconds = -1

// Duration converts s to a time.Duration. NoTimeout maps to 0.
func (s Seconds) Duration() time.Duration {
	if s < 0 || math.IsNaN(float64(s)) {
		return 0
	}
	return time.Duration(float64(s) * float64(time.Second))
}

// Deadline returns the absolute deadline for a timeout starting at now.
// The zero time means "no deadline".
func (s Seconds) Deadline(now time.Time) time.Time {
	if s < 0 || math.IsNaN(float64(s)) {
		return time.Time{}
	}
	return now.Add(s.Duration())
}

// Status classifies how an asynchronous operation resolved.
type Status uint8

const (
	// StatusOK means the operation produced its payload.
	StatusOK Status = iota
	// StatusTimeout means the deadline passed first. Not an error.
	StatusTimeout
	// StatusClosed means the channel was closed locally, by the peer (EOF) or by registry shutdown.
	StatusClosed
	// StatusError means an OS or engine failure; see the result's Err.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ReadResult is delivered to read callbacks. Data is nil unless Status is StatusOK.
type ReadResult struct {
	Data   []byte
	Status Status
	Err    error
}

// OK reports whether the read produced data.
func (r ReadResult) OK() bool { return r.Status == StatusOK }

// WriteResult is delivered to write callbacks. N is the number of bytes handed to the kernel.
type WriteResult struct {
	N      int
	Status Status
	Err    error
}

// OK reports whether every byte was written.
func (r WriteResult) OK() bool { return r.Status == StatusOK }
