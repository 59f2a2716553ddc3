package x402

import (
	"fmt"

	"github.com/gatecharge/server/internal/errors"
)

// VerificationError classifies failures encountered while decoding or
// verifying a payment proof.
type VerificationError struct {
	Code    errors.ErrorCode // Machine-readable error code
	Message string           // User-friendly message
	Err     error            // Technical error for logging
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a new verification error with a user-friendly message.
func NewVerificationError(code errors.ErrorCode, err error) VerificationError {
	return VerificationError{
		Code:    code,
		Message: userFriendlyMessage(code),
		Err:     err,
	}
}

// userFriendlyMessage converts error codes to messages a legitimate client can
// act on. Facilitator-internal diagnostics are never surfaced here.
func userFriendlyMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInvalidPaymentProof:
		return "Payment proof could not be decoded. Rebuild the proof from the challenge and resubmit."
	case errors.ErrCodeUnsupportedScheme:
		return "Payment scheme is not accepted for this resource. Use a scheme listed in the challenge."
	case errors.ErrCodeUnsupportedNetwork:
		return "Settlement network is not accepted for this resource. Use a network listed in the challenge."
	case errors.ErrCodeBadSignature:
		return "Payment proof signature is invalid. Re-sign the proof and resubmit."
	case errors.ErrCodeExpiredProof:
		return "Payment proof has expired. Request a fresh challenge and resubmit."
	case errors.ErrCodeAmountMismatch:
		return "Payment amount is less than required. Pay at least the amount shown in the challenge."
	case errors.ErrCodeResourceMismatch:
		return "Payment proof authorizes a different resource. Build the proof for the requested resource."
	case errors.ErrCodeAlreadyUsed:
		return "This payment proof has already been used. Each proof can be accepted only once."
	case errors.ErrCodeSettlementRejected:
		return "Payment was rejected by the settlement service."
	case errors.ErrCodeSettlementPending:
		return "Payment settlement is still pending. Retry shortly."
	case errors.ErrCodeFacilitatorUnavailable:
		return "Payment verification is temporarily unavailable. Try again later."
	default:
		return fmt.Sprintf("Payment verification failed: %s", code)
	}
}
