package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Payment proof decoding and offline verification failures (client-caused).
const (
	// No payment was presented; a challenge is issued
	ErrCodePaymentRequired ErrorCode = "payment_required"

	// Proof could not be decoded into a structurally valid payment proof
	ErrCodeInvalidPaymentProof ErrorCode = "invalid_payment_proof"

	// Scheme/network dispatch failures
	ErrCodeUnsupportedScheme  ErrorCode = "unsupported_scheme"
	ErrCodeUnsupportedNetwork ErrorCode = "unsupported_network"

	// Cryptographic and field-level verification failures
	ErrCodeBadSignature     ErrorCode = "bad_signature"
	ErrCodeExpiredProof     ErrorCode = "expired_proof"
	ErrCodeAmountMismatch   ErrorCode = "amount_mismatch"
	ErrCodeResourceMismatch ErrorCode = "resource_mismatch"
)

// Replay protection
const (
	// Nonce was already consumed by a previous or concurrent request
	ErrCodeAlreadyUsed ErrorCode = "already_used"
)

// Settlement outcomes from the facilitator
const (
	ErrCodeSettlementRejected     ErrorCode = "settlement_rejected"
	ErrCodeSettlementPending      ErrorCode = "settlement_pending"
	ErrCodeFacilitatorUnavailable ErrorCode = "facilitator_unavailable"
)

// Resource/State errors
const (
	ErrCodeResourceNotFound ErrorCode = "resource_not_found"
)

// Internal/System errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeStorageError  ErrorCode = "storage_error"
	ErrCodePolicyError   ErrorCode = "policy_error"
)

// IsRetryable returns whether an error code represents a condition the client
// may retry with the same proof. Verification failures and replays are final
// for a given proof; only transient settlement states are retryable.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeSettlementPending,
		ErrCodeFacilitatorUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed input
	case ErrCodeInvalidPaymentProof,
		ErrCodeUnsupportedScheme,
		ErrCodeUnsupportedNetwork:
		return 400

	// 402 Payment Required - missing payment or verification failures
	case ErrCodePaymentRequired,
		ErrCodeBadSignature,
		ErrCodeExpiredProof,
		ErrCodeAmountMismatch,
		ErrCodeResourceMismatch,
		ErrCodeAlreadyUsed,
		ErrCodeSettlementRejected,
		ErrCodeSettlementPending:
		return 402

	// 404 Not Found
	case ErrCodeResourceNotFound:
		return 404

	// 503 Service Unavailable - facilitator unreachable (fail closed, never granted)
	case ErrCodeFacilitatorUnavailable:
		return 503

	// 500 Internal Server Error
	default:
		return 500
	}
}
