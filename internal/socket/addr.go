// File: internal/socket/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrWouldBlock reports EAGAIN from a non-blocking syscall.
	ErrWouldBlock = errors.New("operation would block")
	// ErrInProgress reports a non-blocking connect that has not finished yet.
	ErrInProgress = errors.New("connect in progress")
)

// IsLiteral reports whether host needs no name resolution.
func IsLiteral(host string) bool {
	if host == "" {
		return true
	}
	if ip, _, ok := cutZone(host); ok {
		return net.ParseIP(ip) != nil
	}
	return net.ParseIP(host) != nil
}

func cutZone(host string) (ip, zone string, ok bool) {
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == '%' {
			return host[:i], host[i+1:], true
		}
	}
	return host, "", false
}

// ResolveTCPAddr turns a textual host and a numeric port into a TCP address.
// Literal addresses never touch the network; host names go through the
// default resolver bounded by ctx. IPv4 results are preferred.
func ResolveTCPAddr(ctx context.Context, host string, port int) (*net.TCPAddr, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if IsLiteral(host) {
		return net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	pick := addrs[0]
	for _, a := range addrs {
		if a.IP.To4() != nil {
			pick = a
			break
		}
	}
	return &net.TCPAddr{IP: pick.IP, Port: port, Zone: pick.Zone}, nil
}

func isIPv4(ip net.IP) bool {
	return ip == nil || ip.To4() != nil
}
