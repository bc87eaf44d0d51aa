//go:build !linux
// +build !linux

// File: internal/socket/fd_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package socket

import (
	"net"

	"github.com/momentics/hioload-net/api"
)

// FD is unavailable on this platform.
type FD struct{}

func Open(net.IP) (*FD, error)              { return nil, api.ErrNotSupported }
func (fd *FD) Sysfd() int                   { return -1 }
func (fd *FD) LocalAddr() net.Addr          { return nil }
func (fd *FD) RemoteAddr() net.Addr         { return nil }
func (fd *FD) Bind(*net.TCPAddr) error      { return api.ErrNotSupported }
func (fd *FD) Listen(int) error             { return api.ErrNotSupported }
func (fd *FD) Connect(*net.TCPAddr) error   { return api.ErrNotSupported }
func (fd *FD) ConnectResult() (bool, error) { return true, api.ErrNotSupported }
func (fd *FD) Accept() (*FD, error)         { return nil, api.ErrNotSupported }
func (fd *FD) Read([]byte) (int, error)     { return 0, api.ErrNotSupported }
func (fd *FD) Write([]byte) (int, error)    { return 0, api.ErrNotSupported }
func (fd *FD) SetNoDelay(bool) error        { return api.ErrNotSupported }
func (fd *FD) Close() error                 { return nil }
func (fd *FD) Closed() bool                 { return true }
