//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

import "github.com/momentics/hioload-net/api"

var errNoCPU = api.ErrNotSupported

func setAffinityPlatform(int) error {
	return api.ErrNotSupported
}

// Allowed is unavailable on this platform.
func Allowed() ([]int, error) {
	return nil, api.ErrNotSupported
}
