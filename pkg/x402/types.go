package x402

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PaymentRequirement describes the payment that satisfies access to a resource.
// It is issued on the 402 challenge and must match the submitted proof exactly.
// Immutable once issued; regenerated per request.
type PaymentRequirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Resource          string `json:"resource"`
	MaxAmountRequired int64  `json:"maxAmountRequired,string"` // atomic units
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"` // proof TTL
	Description       string `json:"description,omitempty"`
}

// TTL returns the proof validity window as a duration.
func (r PaymentRequirement) TTL() time.Duration {
	return time.Duration(r.MaxTimeoutSeconds) * time.Second
}

// PaymentPayload is the transport envelope carried in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Payload     any    `json:"payload"` // scheme-dependent
}

// ExactPayload is the scheme-specific payload for the exact-amount scheme.
type ExactPayload struct {
	Payer     string    `json:"payer"`          // base58 public key of the paying wallet
	Signature string    `json:"signature"`      // base64 ed25519 signature over the canonical proof bytes
	Nonce     string    `json:"nonce"`          // unique per proof
	IssuedAt  time.Time `json:"issuedAt"`       // proof creation time
	Amount    int64     `json:"amount,string"`  // atomic units
	Resource  string    `json:"resource"`       // resource identifier the proof authorizes
	Memo      string    `json:"memo,omitempty"` // optional free-form note, excluded from signing
}

// PaymentProof is the internal representation after decoding.
// Consumed at most once per nonce by the server.
type PaymentProof struct {
	X402Version int
	Scheme      string
	Network     string
	Payer       string
	Signature   string // base64
	Nonce       string
	IssuedAt    time.Time
	Amount      int64
	Resource    string
	Memo        string
}

// SigningMessage returns the canonical byte representation the payer signs.
// Field order and formatting are part of the wire contract; changing either
// invalidates all outstanding proofs.
func (p PaymentProof) SigningMessage() []byte {
	var b strings.Builder
	b.WriteString("x402-proof-v1\n")
	b.WriteString(p.Scheme)
	b.WriteByte('\n')
	b.WriteString(p.Network)
	b.WriteByte('\n')
	b.WriteString(p.Payer)
	b.WriteByte('\n')
	b.WriteString(p.Nonce)
	b.WriteByte('\n')
	b.WriteString(p.IssuedAt.UTC().Format(time.RFC3339Nano))
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(p.Amount, 10))
	b.WriteByte('\n')
	b.WriteString(p.Resource)
	return []byte(b.String())
}

// ExpiresAt returns the instant this proof stops being acceptable under the
// given validity window. The boundary itself is still valid.
func (p PaymentProof) ExpiresAt(ttl time.Duration) time.Time {
	return p.IssuedAt.Add(ttl)
}

// SettlementReceipt is the settlement confirmation attached to granted
// responses via the X-PAYMENT-RESPONSE header.
type SettlementReceipt struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"` // opaque facilitator settlement reference
	Network   string `json:"network,omitempty"`
	Payer     string `json:"payer,omitempty"`
}

func (p PaymentProof) String() string {
	return fmt.Sprintf("proof{scheme=%s network=%s nonce=%s resource=%s amount=%d}",
		p.Scheme, p.Network, p.Nonce, p.Resource, p.Amount)
}
