package x402

import (
	"fmt"
	"strings"
)

// X402Version is the protocol version carried in payment payloads and challenges.
const X402Version = 1

// HTTP header names used by the protocol.
const (
	// PaymentHeader carries the base64-encoded payment payload on retried requests.
	PaymentHeader = "X-PAYMENT"
	// PaymentResponseHeader carries the base64-encoded settlement receipt on granted responses.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// SchemeExact is the exact-amount payment scheme: the proof authorizes a
// transfer of at least the required amount to the configured recipient.
const SchemeExact = "exact"

// Supported settlement network identifiers.
const (
	NetworkSolanaMainnet = "solana"
	NetworkSolanaDevnet  = "solana-devnet"
)

// caip2Networks maps CAIP-2 style identifiers to canonical network names.
var caip2Networks = map[string]string{
	"solana:mainnet": NetworkSolanaMainnet,
	"solana:devnet":  NetworkSolanaDevnet,
}

// NormalizeNetwork converts a network identifier to its canonical form.
// Accepts canonical names ("solana", "solana-devnet") and CAIP-2 style
// identifiers ("solana:mainnet", "solana:devnet").
func NormalizeNetwork(network string) (string, error) {
	n := strings.TrimSpace(strings.ToLower(network))
	switch n {
	case NetworkSolanaMainnet, NetworkSolanaDevnet:
		return n, nil
	}
	if canonical, ok := caip2Networks[n]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("x402: unsupported network %q", network)
}

// SupportedNetworks returns the canonical network identifiers this build understands.
func SupportedNetworks() []string {
	return []string{NetworkSolanaMainnet, NetworkSolanaDevnet}
}
