package gate

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatecharge/server/internal/errors"
	"github.com/gatecharge/server/internal/facilitator"
	"github.com/gatecharge/server/internal/logger"
	"github.com/gatecharge/server/internal/metrics"
	"github.com/gatecharge/server/internal/storage"
	"github.com/gatecharge/server/pkg/x402"
)

// Settler submits a verified proof for settlement. Satisfied by
// *facilitator.Client; stubbed in tests.
type Settler interface {
	Settle(ctx context.Context, proof x402.PaymentProof, req x402.PaymentRequirement) (facilitator.Verdict, error)
}

// Decision is the terminal outcome of evaluating one gated request.
type Decision struct {
	State     State
	Granted   bool
	Code      errors.ErrorCode // set when not granted
	Message   string           // user-facing denial message
	Retryable bool             // client may retry the same proof
	Receipt   *x402.SettlementReceipt
}

// Service evaluates payment proofs against resource policies and drives each
// request to a terminal grant or denial. Stateless across requests except
// through the nonce store.
type Service struct {
	policies map[string]Policy
	store    storage.Store
	settler  Settler
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService validates all policies up front and returns the gate service.
// A single invalid policy fails construction with a PolicyError.
func NewService(policies []Policy, store storage.Store, settler Settler, m *metrics.Metrics) (*Service, error) {
	byResource := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := ValidatePolicy(p); err != nil {
			return nil, err
		}
		byResource[p.Resource] = p
	}
	return &Service{
		policies: byResource,
		store:    store,
		settler:  settler,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Policies returns the configured policies keyed by resource identifier.
func (s *Service) Policies() map[string]Policy {
	return s.policies
}

// Requirements returns the payment requirements for a resource, one per
// accepted scheme, as issued in 402 challenges.
func (s *Service) Requirements(resource string) ([]x402.PaymentRequirement, error) {
	policy, ok := s.policies[resource]
	if !ok {
		return nil, x402.NewVerificationError(errors.ErrCodeResourceNotFound, nil)
	}
	return BuildRequirement(policy)
}

// Decide evaluates the payment header for a resource and returns a terminal
// decision. An empty header is the unpaid first request: the decision is a
// denial carrying the state Challenged, which the HTTP layer renders as the
// 402 challenge.
func (s *Service) Decide(ctx context.Context, resource, paymentHeader string) Decision {
	start := s.now()
	log := logger.FromContext(ctx)

	reqs, err := s.Requirements(resource)
	if err != nil {
		return s.deny(resource, errors.ErrCodeResourceNotFound, err)
	}

	if paymentHeader == "" {
		s.metrics.RecordChallenge(resource)
		return Decision{
			State:   StateChallenged,
			Code:    errors.ErrCodePaymentRequired,
			Message: "Payment required to access this resource.",
		}
	}

	// Every path past this point is a terminal decision.
	defer func() { s.metrics.ObserveDecision(resource, start) }()

	// proof_received -> offline_verified
	proof, err := x402.ParsePaymentProof(paymentHeader)
	if err != nil {
		return s.deny(resource, verificationCode(err), err)
	}

	req, ok := requirementForScheme(reqs, proof.Scheme)
	if !ok {
		return s.deny(resource, errors.ErrCodeUnsupportedScheme,
			x402.NewVerificationError(errors.ErrCodeUnsupportedScheme, nil))
	}

	if err := x402.VerifyProof(proof, req, s.now()); err != nil {
		return s.deny(resource, verificationCode(err), err)
	}

	// offline_verified -> settlement_pending: reserve the nonce before any
	// settlement attempt so concurrent submissions of the same proof have
	// exactly one winner.
	expiresAt := proof.ExpiresAt(req.TTL())
	if err := s.store.ReserveNonce(ctx, proof.Nonce, expiresAt); err != nil {
		if stderrors.Is(err, storage.ErrNonceUsed) {
			s.metrics.RecordReplay(resource)
			return s.deny(resource, errors.ErrCodeAlreadyUsed,
				x402.NewVerificationError(errors.ErrCodeAlreadyUsed, err))
		}
		log.Error().Err(err).Msg("gate.nonce_reserve_failed")
		return s.deny(resource, errors.ErrCodeStorageError, err)
	}

	log.Debug().
		Str("resource", resource).
		Str("payer", logger.TruncateAddress(proof.Payer)).
		Str("nonce", logger.TruncateAddress(proof.Nonce)).
		Msg("gate.settlement_started")

	verdict, err := s.settler.Settle(ctx, proof, req)
	if err != nil {
		// No verdict was obtained. Fail closed, release the reservation so a
		// legitimate resubmission of the same proof is not blocked.
		s.releaseNonce(ctx, log, proof.Nonce)
		return s.deny(resource, errors.ErrCodeFacilitatorUnavailable,
			x402.NewVerificationError(errors.ErrCodeFacilitatorUnavailable, err))
	}

	switch verdict.Kind {
	case facilitator.VerdictAccepted:
		rec := storage.SettlementRecord{
			Nonce:     proof.Nonce,
			Payer:     proof.Payer,
			Resource:  resource,
			Amount:    proof.Amount,
			Reference: verdict.Reference,
			Network:   proof.Network,
			SettledAt: s.now(),
		}
		if err := s.store.RecordSettlement(ctx, rec); err != nil {
			// The payment settled. Losing the audit record is bad but not a
			// reason to withhold a paid-for resource.
			log.Error().Err(err).Msg("gate.settlement_record_failed")
		}
		s.metrics.RecordGrant(resource, proof.Network)
		log.Info().
			Str("resource", resource).
			Str("payer", logger.TruncateAddress(proof.Payer)).
			Str("reference", verdict.Reference).
			Msg("gate.access_granted")
		return Decision{
			State:   StateGranted,
			Granted: true,
			Receipt: &x402.SettlementReceipt{
				Success:   true,
				Reference: verdict.Reference,
				Network:   proof.Network,
				Payer:     proof.Payer,
			},
		}

	case facilitator.VerdictPending:
		s.releaseNonce(ctx, log, proof.Nonce)
		return s.deny(resource, errors.ErrCodeSettlementPending,
			x402.NewVerificationError(errors.ErrCodeSettlementPending, nil))

	default: // rejected
		s.releaseNonce(ctx, log, proof.Nonce)
		log.Info().
			Str("resource", resource).
			Str("reason", verdict.Reason).
			Msg("gate.settlement_rejected")
		return s.deny(resource, errors.ErrCodeSettlementRejected,
			x402.NewVerificationError(errors.ErrCodeSettlementRejected, nil))
	}
}

// releaseNonce frees a reservation after a non-grant outcome. Release is best
// effort; a stuck reservation self-heals when its expiry passes.
func (s *Service) releaseNonce(ctx context.Context, log zerolog.Logger, nonce string) {
	if err := s.store.ReleaseNonce(ctx, nonce); err != nil {
		log.Warn().
			Err(err).
			Str("nonce", logger.TruncateAddress(nonce)).
			Msg("gate.nonce_release_failed")
	}
}

// deny records denial metrics and shapes the terminal decision.
func (s *Service) deny(resource string, code errors.ErrorCode, cause error) Decision {
	s.metrics.RecordDenial(resource, string(code))
	msg := ""
	var verr x402.VerificationError
	if stderrors.As(cause, &verr) {
		msg = verr.Message
	} else if cause != nil {
		msg = x402.NewVerificationError(code, cause).Message
	}
	return Decision{
		State:     StateDenied,
		Code:      code,
		Message:   msg,
		Retryable: code.IsRetryable(),
	}
}

// verificationCode extracts the error code from a verification error,
// defaulting to internal_error for anything unexpected.
func verificationCode(err error) errors.ErrorCode {
	var verr x402.VerificationError
	if stderrors.As(err, &verr) {
		return verr.Code
	}
	return errors.ErrCodeInternalError
}

// requirementForScheme picks the requirement matching the proof's scheme.
func requirementForScheme(reqs []x402.PaymentRequirement, scheme string) (x402.PaymentRequirement, bool) {
	for _, r := range reqs {
		if r.Scheme == scheme {
			return r, true
		}
	}
	return x402.PaymentRequirement{}, false
}
