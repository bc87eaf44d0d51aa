//go:build !linux
// +build !linux

// File: reactor/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without an implemented poller.

package reactor

import "github.com/momentics/hioload-net/api"

func newPoller() (poller, error) {
	return nil, api.ErrNotSupported
}
