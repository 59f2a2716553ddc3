package gate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gatecharge/server/internal/logger"
	"github.com/gatecharge/server/pkg/responders"
	"github.com/gatecharge/server/pkg/x402"
)

type contextKey string

const contextKeyReceipt contextKey = "gate.receipt"

// ChallengeResponse is the JSON body of every 402 response. It carries the
// requirements a client needs to construct a valid proof, so a denial is
// always actionable without a second round trip.
type ChallengeResponse struct {
	X402Version int                       `json:"x402Version"`
	Error       string                    `json:"error"`
	Code        string                    `json:"code,omitempty"`
	Retryable   bool                      `json:"retryable,omitempty"`
	Accepts     []x402.PaymentRequirement `json:"accepts"`
}

// Protect wraps a handler for one priced resource. Requests without a valid,
// settled payment never reach next.
func Protect(svc *Service, resource string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		decision := svc.Decide(ctx, resource, r.Header.Get(x402.PaymentHeader))

		if decision.Granted {
			if decision.Receipt != nil {
				if encoded, err := encodeReceipt(*decision.Receipt); err == nil {
					w.Header().Set(x402.PaymentResponseHeader, encoded)
				} else {
					log := logger.FromContext(ctx)
					log.Error().Err(err).Msg("gate.receipt_encode_failed")
				}
				ctx = context.WithValue(ctx, contextKeyReceipt, *decision.Receipt)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		writeDenial(w, svc, resource, decision)
	})
}

func writeDenial(w http.ResponseWriter, svc *Service, resource string, decision Decision) {
	status := decision.Code.HTTPStatus()

	// Challenges and payment-level denials carry the full requirement list.
	var accepts []x402.PaymentRequirement
	if status == http.StatusPaymentRequired {
		if reqs, err := svc.Requirements(resource); err == nil {
			accepts = reqs
		}
	}

	if decision.Retryable {
		w.Header().Set("Retry-After", "1")
	}

	responders.JSON(w, status, ChallengeResponse{
		X402Version: x402.X402Version,
		Error:       decision.Message,
		Code:        string(decision.Code),
		Retryable:   decision.Retryable,
		Accepts:     accepts,
	})
}

// ReceiptFromContext retrieves the settlement receipt for the current
// request, for downstream handlers that log or audit the reference.
func ReceiptFromContext(ctx context.Context) (x402.SettlementReceipt, bool) {
	receipt, ok := ctx.Value(contextKeyReceipt).(x402.SettlementReceipt)
	return receipt, ok
}

func encodeReceipt(receipt x402.SettlementReceipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
