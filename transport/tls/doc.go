// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tls layers a TLS session over an asynchronous TCP channel.
//
// crypto/tls runs on engine goroutines against an adapter whose Read and
// Write are the channel's ReadSomeBytesDeadline and Write; those goroutines
// wait on Go channels, never on sockets. Application operations keep the TCP
// contract: one callback each, exactly once, and only in StateEstablished.
package tls
