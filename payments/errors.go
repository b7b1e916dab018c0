package payments

import "errors"

// Sentinel errors surfaced to the initiation caller. Callback-path problems
// are never surfaced to the provider; they are absorbed and logged, per the
// acknowledgment contract.
var (
	// ErrValidation means the initiation input was rejected before any
	// record was created. Not retryable without correcting the request.
	ErrValidation = errors.New("invalid payment request")

	// ErrProviderUnavailable means the gateway could not be reached or
	// timed out. Safe to retry; the retry creates a fresh payment record.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrProviderRejected means the gateway refused the request outright.
	// The record is transitioned to failed and the caller must correct the
	// request before trying again.
	ErrProviderRejected = errors.New("payment provider rejected the request")
)
