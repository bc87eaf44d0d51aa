// File: reactor/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide registry for callers that do not inject one.

package reactor

import (
	"sync"

	"github.com/momentics/hioload-net/control"
)

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the shared registry, creating it on first use with
// control.ConfigFromEnv. Setup runs once; its error is returned to every caller.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		cfg, err := control.ConfigFromEnv()
		if err != nil {
			defaultErr = err
			return
		}
		defaultReg, defaultErr = New(WithConfig(cfg))
	})
	return defaultReg, defaultErr
}

// Initialize forces creation of the shared registry.
func Initialize() error {
	_, err := Default()
	return err
}
