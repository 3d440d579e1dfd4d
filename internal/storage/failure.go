package storage

import (
	"context"
	"errors"
	"net"
)

// FailureKind is a backend's reading of a driver error.
type FailureKind int

const (
	// FailureUnclassified leaves the decision to the caller's stage default.
	FailureUnclassified FailureKind = iota
	// FailureConnection: unreachable store, refused or lost connection,
	// rejected credentials.
	FailureConnection
	// FailureConflict: the statement does not fit the existing table
	// (unknown column, missing table, column count mismatch).
	FailureConflict
	// FailureRejected: the store refused the data (type, width, constraint).
	FailureRejected
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnection:
		return "connection"
	case FailureConflict:
		return "conflict"
	case FailureRejected:
		return "rejected"
	default:
		return "unclassified"
	}
}

// ClassifyCommon handles errors every backend reads the same way: context
// expiry is a rejected batch, network errors are connection failures.
// Backends call it after their driver-specific checks.
func ClassifyCommon(err error) FailureKind {
	if err == nil {
		return FailureUnclassified
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureRejected
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureConnection
	}
	return FailureUnclassified
}
