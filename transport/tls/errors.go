// File: transport/tls/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tls

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"

	"github.com/momentics/hioload-net/api"
)

// Engine error codes reported by ErrorCode.
const (
	CodeNone = iota
	CodeHandshake
	CodeCertificate
	CodeTimeout
	CodeClosed
	CodeIO
	CodeNotEstablished
)

var codeText = map[int]string{
	CodeNone:           "no error",
	CodeHandshake:      "handshake failure",
	CodeCertificate:    "certificate verification failed",
	CodeTimeout:        "operation timed out",
	CodeClosed:         "connection closed",
	CodeIO:             "transport error",
	CodeNotEstablished: "session not established",
}

// ErrorString describes an ErrorCode value.
func ErrorString(code int) string {
	if s, ok := codeText[code]; ok {
		return s
	}
	return "unknown error"
}

// classify maps an engine error to a code.
func classify(err error) int {
	var (
		verr  *stdtls.CertificateVerificationError
		uaerr x509.UnknownAuthorityError
		cierr x509.CertificateInvalidError
		hnerr x509.HostnameError
		nerr  *api.NetworkError
	)
	switch {
	case err == nil:
		return CodeNone
	case errors.As(err, &verr), errors.As(err, &uaerr), errors.As(err, &cierr), errors.As(err, &hnerr):
		return CodeCertificate
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, api.ErrOperationTimeout):
		return CodeTimeout
	case errors.Is(err, api.ErrNotEstablished):
		return CodeNotEstablished
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, api.ErrClosed), errors.Is(err, api.ErrRegistryClosed):
		return CodeClosed
	case errors.As(err, &nerr):
		return CodeIO
	default:
		return CodeHandshake
	}
}
