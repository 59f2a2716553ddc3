package gate

import "fmt"

// State is a stage in the lifecycle of one gated request. Every request walks
// a forward-only path through these states and ends in Granted or Denied.
type State string

const (
	// StateUnchallenged is the initial state: request arrived, no payment seen.
	StateUnchallenged State = "unchallenged"
	// StateChallenged means a 402 challenge was issued for this request.
	StateChallenged State = "challenged"
	// StateProofReceived means the request carried a payment header.
	StateProofReceived State = "proof_received"
	// StateOfflineVerified means decoding and offline verification passed.
	StateOfflineVerified State = "offline_verified"
	// StateSettlementPending means the nonce is reserved and the proof has
	// been submitted to the facilitator.
	StateSettlementPending State = "settlement_pending"
	// StateGranted is terminal: payment settled, resource served.
	StateGranted State = "granted"
	// StateDenied is terminal: the request will not be served with this proof.
	StateDenied State = "denied"
)

// transitions enumerates the legal forward edges. Denied is reachable from
// every non-terminal state; there are no backward edges.
var transitions = map[State][]State{
	StateUnchallenged:      {StateChallenged, StateProofReceived, StateDenied},
	StateChallenged:        {StateProofReceived, StateDenied},
	StateProofReceived:     {StateOfflineVerified, StateDenied},
	StateOfflineVerified:   {StateSettlementPending, StateDenied},
	StateSettlementPending: {StateGranted, StateDenied},
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateGranted || s == StateDenied
}

// Transition validates the move from s to next and returns next, or an error
// if the edge does not exist in the lifecycle graph.
func (s State) Transition(next State) (State, error) {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return next, nil
		}
	}
	return s, fmt.Errorf("gate: illegal state transition %s -> %s", s, next)
}
