package gatecharge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatecharge/server/internal/config"
	"github.com/gatecharge/server/internal/facilitator"
	"github.com/gatecharge/server/internal/gate"
	"github.com/gatecharge/server/internal/storage"
	"github.com/gatecharge/server/pkg/x402"
)

type noopSettler struct{}

func (noopSettler) Settle(context.Context, x402.PaymentProof, x402.PaymentRequirement) (facilitator.Verdict, error) {
	return facilitator.Verdict{Kind: facilitator.VerdictRejected, Reason: "test"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: ":0"},
		Gate: config.GateConfig{
			Network:         x402.NetworkSolanaDevnet,
			PayTo:           "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
			ProofTTL:        config.Duration{Duration: 60 * time.Second},
			AcceptedSchemes: []string{x402.SchemeExact},
			Resources: map[string]config.ResourcePolicy{
				"/premium/report": {Amount: 1000, Description: "report"},
			},
		},
		Facilitator: config.FacilitatorConfig{
			URL:     "http://facilitator.local",
			Timeout: config.Duration{Duration: time.Second},
		},
		Storage: config.StorageConfig{
			Backend:         "memory",
			CleanupInterval: config.Duration{Duration: time.Minute},
		},
	}
}

func TestNewAppAssemblesGate(t *testing.T) {
	store := storage.NewMemoryStore(time.Minute)
	defer store.Close()

	app, err := New(testConfig(), WithStore(store), WithSettler(noopSettler{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policies := app.Gate().Policies()
	if len(policies) != 1 {
		t.Fatalf("policies = %d, want 1", len(policies))
	}
	policy, ok := policies["/premium/report"]
	if !ok {
		t.Fatal("resource policy missing")
	}
	// Gate-wide defaults flow into each resource policy.
	if policy.PayTo != "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T" {
		t.Errorf("payTo = %q", policy.PayTo)
	}
	if policy.Network != x402.NetworkSolanaDevnet {
		t.Errorf("network = %q", policy.Network)
	}
}

func TestNewAppRejectsInvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.Resources["/premium/report"] = config.ResourcePolicy{Amount: 0}

	store := storage.NewMemoryStore(time.Minute)
	defer store.Close()

	_, err := New(cfg, WithStore(store), WithSettler(noopSettler{}))
	if err == nil {
		t.Fatal("app constructed with zero-priced policy")
	}
	var perr *gate.PolicyError
	if !errors.As(err, &perr) {
		t.Errorf("error type = %T, want *gate.PolicyError", err)
	}
}

func TestResourcePolicyOverridesDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.Resources["/premium/report"] = config.ResourcePolicy{
		Amount: 1000,
		PayTo:  "override-recipient",
	}

	policies := policiesFromConfig(cfg.Gate)
	if len(policies) != 1 {
		t.Fatalf("policies = %d", len(policies))
	}
	if policies[0].PayTo != "override-recipient" {
		t.Errorf("payTo = %q, want override", policies[0].PayTo)
	}
}
