package x402

import (
	"encoding/base64"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/gatecharge/server/internal/errors"
)

func validProof() PaymentProof {
	return PaymentProof{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     NetworkSolanaDevnet,
		Payer:       "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Signature:   base64.StdEncoding.EncodeToString(make([]byte, 64)),
		Nonce:       "nonce-1",
		IssuedAt:    time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		Amount:      1000,
		Resource:    "/premium/report",
	}
}

func TestParsePaymentProofRoundTrip(t *testing.T) {
	want := validProof()

	header, err := EncodePaymentProof(want)
	if err != nil {
		t.Fatalf("EncodePaymentProof: %v", err)
	}

	got, err := ParsePaymentProof(header)
	if err != nil {
		t.Fatalf("ParsePaymentProof: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestParsePaymentProofAcceptsRawJSON(t *testing.T) {
	header, err := EncodePaymentProof(validProof())
	if err != nil {
		t.Fatalf("EncodePaymentProof: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}

	if _, err := ParsePaymentProof(string(raw)); err != nil {
		t.Errorf("raw JSON header rejected: %v", err)
	}
}

func TestParsePaymentProofNormalizesCAIP2Network(t *testing.T) {
	proof := validProof()
	proof.Network = "solana:devnet"

	header, err := EncodePaymentProof(proof)
	if err != nil {
		t.Fatalf("EncodePaymentProof: %v", err)
	}
	got, err := ParsePaymentProof(header)
	if err != nil {
		t.Fatalf("ParsePaymentProof: %v", err)
	}
	if got.Network != NetworkSolanaDevnet {
		t.Errorf("network = %q, want %q", got.Network, NetworkSolanaDevnet)
	}
}

// The decoder must be total: any input yields either a proof or a typed
// error, never a panic and never a zero-valued success.
func TestParsePaymentProofRejectsGarbage(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   errors.ErrorCode
	}{
		{"empty", "", errors.ErrCodeInvalidPaymentProof},
		{"whitespace", "   ", errors.ErrCodeInvalidPaymentProof},
		{"not base64", "!!!not-base64!!!", errors.ErrCodeInvalidPaymentProof},
		{"base64 of garbage", base64.StdEncoding.EncodeToString([]byte("hello")), errors.ErrCodeInvalidPaymentProof},
		{"truncated json", "{\"x402Version\":1,\"scheme\":\"exa", errors.ErrCodeInvalidPaymentProof},
		{"missing scheme", `{"x402Version":1,"network":"solana","payload":{}}`, errors.ErrCodeInvalidPaymentProof},
		{"missing payload", `{"x402Version":1,"scheme":"exact","network":"solana"}`, errors.ErrCodeInvalidPaymentProof},
		{"unknown scheme", `{"x402Version":1,"scheme":"streaming","network":"solana","payload":{"a":1}}`, errors.ErrCodeUnsupportedScheme},
		{"unknown network", `{"x402Version":1,"scheme":"exact","network":"ethereum","payload":{"a":1}}`, errors.ErrCodeUnsupportedNetwork},
		{"payload wrong types", `{"x402Version":1,"scheme":"exact","network":"solana","payload":{"payer":5}}`, errors.ErrCodeInvalidPaymentProof},
		{"payload unknown field", `{"x402Version":1,"scheme":"exact","network":"solana","payload":{"payer":"a","signature":"b","nonce":"c","issuedAt":"2026-08-23T12:00:00Z","amount":"10","resource":"/r","extra":true}}`, errors.ErrCodeInvalidPaymentProof},
		{"negative amount", `{"x402Version":1,"scheme":"exact","network":"solana","payload":{"payer":"a","signature":"b","nonce":"c","issuedAt":"2026-08-23T12:00:00Z","amount":"-5","resource":"/r"}}`, errors.ErrCodeInvalidPaymentProof},
		{"deeply nested", strings.Repeat(`{"payload":`, 50) + "1" + strings.Repeat("}", 50), errors.ErrCodeInvalidPaymentProof},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePaymentProof(tt.header)
			if err == nil {
				t.Fatal("expected error, got none")
			}
			var verr VerificationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("expected VerificationError, got %T: %v", err, err)
			}
			if verr.Code != tt.code {
				t.Errorf("code = %s, want %s", verr.Code, tt.code)
			}
		})
	}
}

func TestRequirementRoundTrip(t *testing.T) {
	want := PaymentRequirement{
		Scheme:            SchemeExact,
		Network:           NetworkSolanaMainnet,
		Resource:          "/premium/report",
		MaxAmountRequired: 250000,
		Asset:             "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		PayTo:             "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		MaxTimeoutSeconds: 60,
		Description:       "quarterly report",
	}

	encoded, err := EncodeRequirement(want)
	if err != nil {
		t.Fatalf("EncodeRequirement: %v", err)
	}
	got, err := DecodeRequirement(encoded)
	if err != nil {
		t.Fatalf("DecodeRequirement: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeRequirementRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "???", base64.StdEncoding.EncodeToString([]byte("nope"))} {
		if _, err := DecodeRequirement(input); err == nil {
			t.Errorf("DecodeRequirement(%q) accepted garbage", input)
		}
	}
}

func TestNormalizeNetwork(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"solana", NetworkSolanaMainnet, false},
		{"solana-devnet", NetworkSolanaDevnet, false},
		{"solana:mainnet", NetworkSolanaMainnet, false},
		{"solana:devnet", NetworkSolanaDevnet, false},
		{"SOLANA", NetworkSolanaMainnet, false},
		{" solana ", NetworkSolanaMainnet, false},
		{"ethereum", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeNetwork(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeNetwork(%q) accepted unknown network", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeNetwork(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeNetwork(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
