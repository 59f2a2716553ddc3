package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/gatecharge/server/internal/errors"
)

// Scheme binds payload decoding and signature verification for one payment
// scheme. Adding a scheme means adding an implementation here; the access
// gate dispatches through this interface and never special-cases schemes.
type Scheme interface {
	// Name returns the scheme identifier carried on the wire.
	Name() string
	// SupportsNetwork reports whether the scheme settles on the given canonical network.
	SupportsNetwork(network string) bool
	// DecodePayload parses the scheme-specific payload into a PaymentProof.
	// The envelope fields (version, scheme, network) are filled by the codec.
	DecodePayload(raw json.RawMessage) (PaymentProof, error)
	// VerifySignature checks the proof's signature over its canonical bytes.
	VerifySignature(proof PaymentProof) error
}

// schemes is the closed set of supported payment schemes.
var schemes = map[string]Scheme{
	SchemeExact: exactScheme{},
}

// LookupScheme returns the Scheme implementation for the given identifier.
func LookupScheme(name string) (Scheme, bool) {
	s, ok := schemes[name]
	return s, ok
}

// SupportedSchemes returns the scheme identifiers this build understands.
func SupportedSchemes() []string {
	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	return names
}

// exactScheme implements the exact-amount scheme with ed25519 signatures and
// base58 payer addresses.
type exactScheme struct{}

func (exactScheme) Name() string { return SchemeExact }

func (exactScheme) SupportsNetwork(network string) bool {
	switch network {
	case NetworkSolanaMainnet, NetworkSolanaDevnet:
		return true
	}
	return false
}

func (exactScheme) DecodePayload(raw json.RawMessage) (PaymentProof, error) {
	var payload ExactPayload
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return PaymentProof{}, fmt.Errorf("parse exact payload: %w", err)
	}

	switch {
	case payload.Payer == "":
		return PaymentProof{}, fmt.Errorf("exact payload missing payer")
	case payload.Signature == "":
		return PaymentProof{}, fmt.Errorf("exact payload missing signature")
	case payload.Nonce == "":
		return PaymentProof{}, fmt.Errorf("exact payload missing nonce")
	case payload.IssuedAt.IsZero():
		return PaymentProof{}, fmt.Errorf("exact payload missing issuedAt")
	case payload.Amount <= 0:
		return PaymentProof{}, fmt.Errorf("exact payload amount must be positive")
	case payload.Resource == "":
		return PaymentProof{}, fmt.Errorf("exact payload missing resource")
	}

	return PaymentProof{
		Payer:     payload.Payer,
		Signature: payload.Signature,
		Nonce:     payload.Nonce,
		IssuedAt:  payload.IssuedAt.UTC(),
		Amount:    payload.Amount,
		Resource:  payload.Resource,
		Memo:      payload.Memo,
	}, nil
}

func (exactScheme) VerifySignature(proof PaymentProof) error {
	sigBytes, err := base64.StdEncoding.DecodeString(proof.Signature)
	if err != nil {
		return NewVerificationError(errors.ErrCodeBadSignature,
			fmt.Errorf("decode signature: %w", err))
	}
	if len(sigBytes) != 64 {
		return NewVerificationError(errors.ErrCodeBadSignature,
			fmt.Errorf("signature must be 64 bytes, got %d", len(sigBytes)))
	}

	payerKey, err := solana.PublicKeyFromBase58(proof.Payer)
	if err != nil {
		return NewVerificationError(errors.ErrCodeBadSignature,
			fmt.Errorf("parse payer address: %w", err))
	}

	sig := solana.SignatureFromBytes(sigBytes)
	if !sig.Verify(payerKey, proof.SigningMessage()) {
		return NewVerificationError(errors.ErrCodeBadSignature,
			fmt.Errorf("ed25519 verification failed"))
	}
	return nil
}

// SignProof signs the proof's canonical bytes with the given private key and
// returns the proof with its signature and payer fields filled in. Server
// code never calls this; it exists for client construction and tests.
func SignProof(proof PaymentProof, key solana.PrivateKey) (PaymentProof, error) {
	proof.Payer = key.PublicKey().String()
	proof.IssuedAt = proof.IssuedAt.UTC().Truncate(time.Nanosecond)
	sig, err := key.Sign(proof.SigningMessage())
	if err != nil {
		return PaymentProof{}, fmt.Errorf("x402: sign proof: %w", err)
	}
	proof.Signature = base64.StdEncoding.EncodeToString(sig[:])
	return proof, nil
}
