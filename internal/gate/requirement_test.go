package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/gatecharge/server/pkg/x402"
)

func validPolicy() Policy {
	return Policy{
		Resource:    "/premium/report",
		Amount:      250000,
		Description: "quarterly report",
		Asset:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		PayTo:       "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Network:     "solana-devnet",
		Schemes:     []string{x402.SchemeExact},
		ProofTTL:    60 * time.Second,
	}
}

func TestValidatePolicyRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"empty resource", func(p *Policy) { p.Resource = "" }},
		{"zero price", func(p *Policy) { p.Amount = 0 }},
		{"negative price", func(p *Policy) { p.Amount = -5 }},
		{"empty recipient", func(p *Policy) { p.PayTo = "" }},
		{"empty scheme set", func(p *Policy) { p.Schemes = nil }},
		{"unknown scheme", func(p *Policy) { p.Schemes = []string{"streaming"} }},
		{"unknown network", func(p *Policy) { p.Network = "ethereum" }},
		{"zero ttl", func(p *Policy) { p.ProofTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)

			err := ValidatePolicy(p)
			if err == nil {
				t.Fatal("expected PolicyError, got none")
			}
			var perr *PolicyError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *PolicyError, got %T: %v", err, err)
			}
		})
	}
}

func TestBuildRequirement(t *testing.T) {
	reqs, err := BuildRequirement(validPolicy())
	if err != nil {
		t.Fatalf("BuildRequirement: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("requirements = %d, want 1", len(reqs))
	}

	req := reqs[0]
	if req.Scheme != x402.SchemeExact {
		t.Errorf("scheme = %q", req.Scheme)
	}
	if req.Network != x402.NetworkSolanaDevnet {
		t.Errorf("network = %q", req.Network)
	}
	if req.MaxAmountRequired != 250000 {
		t.Errorf("amount = %d", req.MaxAmountRequired)
	}
	if req.MaxTimeoutSeconds != 60 {
		t.Errorf("timeout = %d", req.MaxTimeoutSeconds)
	}
	if req.Resource != "/premium/report" {
		t.Errorf("resource = %q", req.Resource)
	}
}

// The same policy must always produce the same requirement.
func TestBuildRequirementDeterministic(t *testing.T) {
	first, err := BuildRequirement(validPolicy())
	if err != nil {
		t.Fatalf("BuildRequirement: %v", err)
	}
	second, err := BuildRequirement(validPolicy())
	if err != nil {
		t.Fatalf("BuildRequirement: %v", err)
	}
	if first[0] != second[0] {
		t.Errorf("requirements differ:\n%+v\n%+v", first[0], second[0])
	}
}

func TestBuildRequirementNormalizesNetwork(t *testing.T) {
	p := validPolicy()
	p.Network = "solana:devnet"

	reqs, err := BuildRequirement(p)
	if err != nil {
		t.Fatalf("BuildRequirement: %v", err)
	}
	if reqs[0].Network != x402.NetworkSolanaDevnet {
		t.Errorf("network = %q, want %q", reqs[0].Network, x402.NetworkSolanaDevnet)
	}
}
