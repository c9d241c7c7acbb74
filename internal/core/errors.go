package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInstallmentRange reports a compra whose parcelaAtual or
	// parcelasTotal is below 1, or whose parcelaAtual exceeds parcelasTotal.
	ErrInvalidInstallmentRange = errors.New("invalid installment range")

	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrNetworkUnavailable reports that the remote backend cannot be
	// reached. Non-fatal: the write stays queued until connectivity returns.
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// ValidationError reports a field that failed local validation. Validation
// failures are rejected synchronously, before the cache is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
