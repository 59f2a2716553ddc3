package gate

import (
	"fmt"
	"time"

	"github.com/gatecharge/server/pkg/x402"
)

// Policy is the resolved pricing policy for one protected resource. Policies
// are built once from configuration and never change while the server runs.
type Policy struct {
	Resource    string
	Amount      int64 // atomic units, must be positive
	Description string
	Asset       string
	PayTo       string
	Network     string
	Schemes     []string
	ProofTTL    time.Duration
}

// PolicyError reports a misconfigured resource policy. Raised at startup so
// an operator never discovers a broken policy through a failing challenge.
type PolicyError struct {
	Resource string
	Reason   string
}

func (e *PolicyError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("invalid gate policy: %s", e.Reason)
	}
	return fmt.Sprintf("invalid gate policy for resource %q: %s", e.Resource, e.Reason)
}

// ValidatePolicy checks a policy for the failure modes that would otherwise
// produce unsatisfiable challenges.
func ValidatePolicy(p Policy) error {
	if p.Resource == "" {
		return &PolicyError{Reason: "resource identifier must not be empty"}
	}
	if p.Amount <= 0 {
		return &PolicyError{Resource: p.Resource, Reason: fmt.Sprintf("price must be positive, got %d", p.Amount)}
	}
	if p.PayTo == "" {
		return &PolicyError{Resource: p.Resource, Reason: "recipient address (pay_to) must not be empty"}
	}
	if len(p.Schemes) == 0 {
		return &PolicyError{Resource: p.Resource, Reason: "accepted scheme set must not be empty"}
	}
	for _, scheme := range p.Schemes {
		if _, ok := x402.LookupScheme(scheme); !ok {
			return &PolicyError{Resource: p.Resource, Reason: fmt.Sprintf("unknown payment scheme %q", scheme)}
		}
	}
	if _, err := x402.NormalizeNetwork(p.Network); err != nil {
		return &PolicyError{Resource: p.Resource, Reason: fmt.Sprintf("unsupported network %q", p.Network)}
	}
	if p.ProofTTL <= 0 {
		return &PolicyError{Resource: p.Resource, Reason: "proof TTL must be positive"}
	}
	return nil
}

// BuildRequirement renders a policy as the payment requirement issued on 402
// challenges. One requirement per accepted scheme; the same policy always
// yields the same requirements.
func BuildRequirement(p Policy) ([]x402.PaymentRequirement, error) {
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	network, err := x402.NormalizeNetwork(p.Network)
	if err != nil {
		return nil, &PolicyError{Resource: p.Resource, Reason: err.Error()}
	}

	reqs := make([]x402.PaymentRequirement, 0, len(p.Schemes))
	for _, scheme := range p.Schemes {
		reqs = append(reqs, x402.PaymentRequirement{
			Scheme:            scheme,
			Network:           network,
			Resource:          p.Resource,
			MaxAmountRequired: p.Amount,
			Asset:             p.Asset,
			PayTo:             p.PayTo,
			MaxTimeoutSeconds: int(p.ProofTTL / time.Second),
			Description:       p.Description,
		})
	}
	return reqs, nil
}
