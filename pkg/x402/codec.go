package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gatecharge/server/internal/errors"
)

// ParsePaymentProof decodes the X-PAYMENT header into a PaymentProof.
// The decode is total: any input either yields a structurally valid proof or
// a typed VerificationError with code invalid_payment_proof (or
// unsupported_scheme when the envelope names an unknown scheme). It never
// panics and never silently drops fields.
func ParsePaymentProof(header string) (PaymentProof, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("empty payment header"))
	}

	// Decode base64 (or accept raw JSON for tooling)
	var data []byte
	if strings.HasPrefix(raw, "{") {
		data = []byte(raw)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(raw)
			if err != nil {
				return PaymentProof{}, NewVerificationError(errors.ErrCodeInvalidPaymentProof,
					fmt.Errorf("decode base64: %w", err))
			}
		}
		data = decoded
	}

	var envelope struct {
		X402Version int             `json:"x402Version"`
		Scheme      string          `json:"scheme"`
		Network     string          `json:"network"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("parse payment payload: %w", err))
	}
	if envelope.Scheme == "" {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("payment payload missing scheme"))
	}
	if len(envelope.Payload) == 0 {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeInvalidPaymentProof,
			fmt.Errorf("payment payload missing scheme payload"))
	}

	scheme, ok := LookupScheme(envelope.Scheme)
	if !ok {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeUnsupportedScheme,
			fmt.Errorf("unsupported scheme %q (supported: %s)",
				envelope.Scheme, strings.Join(SupportedSchemes(), ", ")))
	}

	network, err := NormalizeNetwork(envelope.Network)
	if err != nil {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeUnsupportedNetwork, err)
	}

	proof, err := scheme.DecodePayload(envelope.Payload)
	if err != nil {
		return PaymentProof{}, NewVerificationError(errors.ErrCodeInvalidPaymentProof, err)
	}

	proof.X402Version = envelope.X402Version
	proof.Scheme = envelope.Scheme
	proof.Network = network
	return proof, nil
}

// EncodePaymentProof encodes a proof into the X-PAYMENT header representation.
// Server code only decodes; this is the client-side half, kept here so the
// two directions stay in one place and round-trip in tests.
func EncodePaymentProof(proof PaymentProof) (string, error) {
	envelope := PaymentPayload{
		X402Version: X402Version,
		Scheme:      proof.Scheme,
		Network:     proof.Network,
		Payload: ExactPayload{
			Payer:     proof.Payer,
			Signature: proof.Signature,
			Nonce:     proof.Nonce,
			IssuedAt:  proof.IssuedAt,
			Amount:    proof.Amount,
			Resource:  proof.Resource,
			Memo:      proof.Memo,
		},
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeRequirement renders a PaymentRequirement as its transport
// representation: base64-encoded canonical JSON.
func EncodeRequirement(req PaymentRequirement) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("x402: marshal requirement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirement parses the transport representation produced by
// EncodeRequirement. decode(encode(r)) == r for all valid requirements.
func DecodeRequirement(encoded string) (PaymentRequirement, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return PaymentRequirement{}, fmt.Errorf("x402: decode requirement base64: %w", err)
	}
	var req PaymentRequirement
	if err := json.Unmarshal(data, &req); err != nil {
		return PaymentRequirement{}, fmt.Errorf("x402: parse requirement: %w", err)
	}
	return req, nil
}
