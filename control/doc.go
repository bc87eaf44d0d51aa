// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for hioload-net.
//
// Provides concurrent-safe state handling primitives including:
//   - Registry/channel configuration with defaults, env overrides and validation
//   - Prometheus collectors for watches, timeouts, bytes and handshakes
//   - Debug probe registration and state export
package control
