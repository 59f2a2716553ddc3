package x402

import (
	"fmt"
	"time"

	"github.com/gatecharge/server/internal/errors"
)

// VerifyProof validates a decoded proof against the requirement issued for
// the request, entirely offline. Checks run in a fixed order and short-circuit
// on the first failure:
//
//  1. scheme and network supported and matching the requirement
//  2. signature cryptographically valid over the canonical proof bytes
//  3. issued-at within the requirement's TTL of now (boundary inclusive)
//  4. amount covers the required price
//  5. resource identifier matches
//
// The order exists for diagnosability; every check is independently required.
// This function never calls the facilitator and never touches the replay
// guard, so it is unit-testable without network stubs.
func VerifyProof(proof PaymentProof, req PaymentRequirement, now time.Time) error {
	if proof.Scheme != req.Scheme {
		return NewVerificationError(errors.ErrCodeUnsupportedScheme,
			fmt.Errorf("proof scheme %q does not satisfy required scheme %q", proof.Scheme, req.Scheme))
	}
	scheme, ok := LookupScheme(proof.Scheme)
	if !ok {
		return NewVerificationError(errors.ErrCodeUnsupportedScheme,
			fmt.Errorf("unsupported scheme %q", proof.Scheme))
	}
	if proof.Network != req.Network || !scheme.SupportsNetwork(proof.Network) {
		return NewVerificationError(errors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("proof network %q does not satisfy required network %q", proof.Network, req.Network))
	}

	if err := scheme.VerifySignature(proof); err != nil {
		return err
	}

	// A proof aged exactly TTL is still valid; one instant past is not.
	if now.After(proof.ExpiresAt(req.TTL())) {
		return NewVerificationError(errors.ErrCodeExpiredProof,
			fmt.Errorf("proof issued %s expired at %s",
				proof.IssuedAt.Format(time.RFC3339Nano),
				proof.ExpiresAt(req.TTL()).Format(time.RFC3339Nano)))
	}

	if proof.Amount < req.MaxAmountRequired {
		return NewVerificationError(errors.ErrCodeAmountMismatch,
			fmt.Errorf("proof amount %d below required %d", proof.Amount, req.MaxAmountRequired))
	}

	if proof.Resource != req.Resource {
		return NewVerificationError(errors.ErrCodeResourceMismatch,
			fmt.Errorf("proof authorizes %q, requirement is for %q", proof.Resource, req.Resource))
	}

	return nil
}
