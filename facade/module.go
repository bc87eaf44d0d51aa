// File: facade/module.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// fx wiring: provides the facade and its registry and ties them to the app lifecycle.

package facade

import (
	"context"

	"go.uber.org/fx"

	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/reactor"
)

// Module returns the fx module for hioload-net.
func Module(opts ...Option) fx.Option {
	return fx.Module("hioload",
		fx.Provide(
			func() (*HioloadNet, error) { return New(opts...) },
			func(h *HioloadNet) *reactor.Registry { return h.Registry() },
			func(h *HioloadNet) *control.DebugProbes { return h.Probes() },
		),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, h *HioloadNet) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return h.Start()
		},
		OnStop: func(context.Context) error {
			return h.Stop()
		},
	})
}
