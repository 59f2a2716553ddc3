package gate

import "testing"

func TestStateTransitions(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateUnchallenged, StateChallenged},
		{StateUnchallenged, StateProofReceived},
		{StateChallenged, StateProofReceived},
		{StateProofReceived, StateOfflineVerified},
		{StateOfflineVerified, StateSettlementPending},
		{StateSettlementPending, StateGranted},
		{StateUnchallenged, StateDenied},
		{StateChallenged, StateDenied},
		{StateProofReceived, StateDenied},
		{StateOfflineVerified, StateDenied},
		{StateSettlementPending, StateDenied},
	}
	for _, tt := range legal {
		got, err := tt.from.Transition(tt.to)
		if err != nil {
			t.Errorf("%s -> %s rejected: %v", tt.from, tt.to, err)
		}
		if got != tt.to {
			t.Errorf("%s -> %s returned %s", tt.from, tt.to, got)
		}
	}
}

func TestStateIllegalTransitions(t *testing.T) {
	illegal := []struct{ from, to State }{
		// no backward edges
		{StateProofReceived, StateChallenged},
		{StateOfflineVerified, StateProofReceived},
		{StateGranted, StateDenied},
		{StateDenied, StateGranted},
		// no skipping settlement
		{StateOfflineVerified, StateGranted},
		{StateProofReceived, StateGranted},
		{StateUnchallenged, StateGranted},
		// terminal states admit nothing
		{StateGranted, StateChallenged},
		{StateDenied, StateProofReceived},
	}
	for _, tt := range illegal {
		got, err := tt.from.Transition(tt.to)
		if err == nil {
			t.Errorf("%s -> %s accepted", tt.from, tt.to)
		}
		if got != tt.from {
			t.Errorf("%s -> %s moved state to %s on error", tt.from, tt.to, got)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateGranted, StateDenied} {
		if !s.Terminal() {
			t.Errorf("%s not terminal", s)
		}
	}
	for _, s := range []State{StateUnchallenged, StateChallenged, StateProofReceived, StateOfflineVerified, StateSettlementPending} {
		if s.Terminal() {
			t.Errorf("%s reported terminal", s)
		}
	}
}
