package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"syscall"
)

// Transient reports whether a failed object store call is worth retrying.
// Only timeouts, connection resets, DNS failures and TLS handshake failures
// qualify; throttling, 5xx answers and everything else fail at once.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return tlsHandshakeFailure(err)
}

func tlsHandshakeFailure(err error) bool {
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	return errors.As(err, &certErr)
}
