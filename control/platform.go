// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Runtime probes shared by every registry.

package control

import (
	"runtime"
)

// RegisterPlatformProbes adds CPU and goroutine counts to dp.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
