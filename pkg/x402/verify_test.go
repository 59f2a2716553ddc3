package x402

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/gatecharge/server/internal/errors"
)

var testIssuedAt = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

// signedProof returns a proof correctly signed by a fresh wallet, alongside
// the requirement it satisfies.
func signedProof(t *testing.T) (PaymentProof, PaymentRequirement) {
	t.Helper()
	wallet := solana.NewWallet()

	req := PaymentRequirement{
		Scheme:            SchemeExact,
		Network:           NetworkSolanaDevnet,
		Resource:          "/premium/report",
		MaxAmountRequired: 1000,
		PayTo:             "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		MaxTimeoutSeconds: 60,
	}

	proof, err := SignProof(PaymentProof{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     NetworkSolanaDevnet,
		Nonce:       "nonce-verify",
		IssuedAt:    testIssuedAt,
		Amount:      1000,
		Resource:    "/premium/report",
	}, wallet.PrivateKey)
	if err != nil {
		t.Fatalf("SignProof: %v", err)
	}
	return proof, req
}

func TestVerifyProofValid(t *testing.T) {
	proof, req := signedProof(t)
	if err := VerifyProof(proof, req, testIssuedAt.Add(time.Second)); err != nil {
		t.Errorf("valid proof rejected: %v", err)
	}
}

func TestVerifyProofOverpaymentAccepted(t *testing.T) {
	proof, req := signedProof(t)
	req.MaxAmountRequired = 500
	if err := VerifyProof(proof, req, testIssuedAt.Add(time.Second)); err != nil {
		t.Errorf("overpaying proof rejected: %v", err)
	}
}

func TestVerifyProofExpiryBoundary(t *testing.T) {
	proof, req := signedProof(t)
	boundary := proof.IssuedAt.Add(req.TTL())

	if err := VerifyProof(proof, req, boundary); err != nil {
		t.Errorf("proof aged exactly TTL rejected: %v", err)
	}
	if err := VerifyProof(proof, req, boundary.Add(time.Microsecond)); err == nil {
		t.Error("proof one instant past TTL accepted")
	} else if code := codeOf(t, err); code != errors.ErrCodeExpiredProof {
		t.Errorf("code = %s, want %s", code, errors.ErrCodeExpiredProof)
	}
}

func TestVerifyProofRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PaymentProof, *PaymentRequirement)
		code   errors.ErrorCode
	}{
		{
			"scheme mismatch",
			func(p *PaymentProof, r *PaymentRequirement) { p.Scheme = "other" },
			errors.ErrCodeUnsupportedScheme,
		},
		{
			"network mismatch",
			func(p *PaymentProof, r *PaymentRequirement) { p.Network = NetworkSolanaMainnet },
			errors.ErrCodeUnsupportedNetwork,
		},
		{
			"tampered amount breaks signature",
			func(p *PaymentProof, r *PaymentRequirement) { p.Amount = 2000 },
			errors.ErrCodeBadSignature,
		},
		{
			"tampered nonce breaks signature",
			func(p *PaymentProof, r *PaymentRequirement) { p.Nonce = "nonce-other" },
			errors.ErrCodeBadSignature,
		},
		{
			"tampered payer breaks signature",
			func(p *PaymentProof, r *PaymentRequirement) {
				p.Payer = solana.NewWallet().PublicKey().String()
			},
			errors.ErrCodeBadSignature,
		},
		{
			"garbage signature",
			func(p *PaymentProof, r *PaymentRequirement) { p.Signature = "bm90LWEtc2lnbmF0dXJl" },
			errors.ErrCodeBadSignature,
		},
		{
			"underpayment",
			func(p *PaymentProof, r *PaymentRequirement) { r.MaxAmountRequired = 5000 },
			errors.ErrCodeAmountMismatch,
		},
		{
			"resource mismatch",
			func(p *PaymentProof, r *PaymentRequirement) { r.Resource = "/other" },
			errors.ErrCodeResourceMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof, req := signedProof(t)
			tt.mutate(&proof, &req)

			err := VerifyProof(proof, req, testIssuedAt.Add(time.Second))
			if err == nil {
				t.Fatal("expected rejection, got none")
			}
			if code := codeOf(t, err); code != tt.code {
				t.Errorf("code = %s, want %s", code, tt.code)
			}
		})
	}
}

// Bad signature must be reported before expiry: an attacker should not learn
// freshness information from a forged proof.
func TestVerifyProofSignatureCheckedBeforeExpiry(t *testing.T) {
	proof, req := signedProof(t)
	proof.Amount = 999999 // breaks the signature

	err := VerifyProof(proof, req, testIssuedAt.Add(24*time.Hour))
	if err == nil {
		t.Fatal("expected rejection, got none")
	}
	if code := codeOf(t, err); code != errors.ErrCodeBadSignature {
		t.Errorf("code = %s, want %s", code, errors.ErrCodeBadSignature)
	}
}

func TestSigningMessageCanonicalForm(t *testing.T) {
	proof, _ := signedProof(t)

	msg1 := string(proof.SigningMessage())
	msg2 := string(proof.SigningMessage())
	if msg1 != msg2 {
		t.Error("signing message not deterministic")
	}

	// The memo is excluded from the canonical bytes.
	withMemo := proof
	withMemo.Memo = "tip"
	if string(withMemo.SigningMessage()) != msg1 {
		t.Error("memo changed the signing message")
	}
}

func codeOf(t *testing.T, err error) errors.ErrorCode {
	t.Helper()
	var verr VerificationError
	if !stderrors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %T: %v", err, err)
	}
	return verr.Code
}
