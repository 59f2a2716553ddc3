// Package facilitator implements the client for the external settlement
// service. The facilitator is the only component that talks to the chain;
// this server submits verified proofs to it and acts on the verdict.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatecharge/server/internal/circuitbreaker"
	"github.com/gatecharge/server/internal/httputil"
	"github.com/gatecharge/server/internal/logger"
	"github.com/gatecharge/server/internal/metrics"
	"github.com/gatecharge/server/pkg/x402"
)

// ErrUnavailable reports that no settlement verdict could be obtained: the
// facilitator timed out, refused the connection, returned a server error, or
// the circuit breaker was open. The caller must not treat this as a payment
// rejection.
var ErrUnavailable = errors.New("facilitator unavailable")

// VerdictKind classifies the facilitator's answer for a settlement request.
type VerdictKind string

const (
	// VerdictAccepted means the payment settled; Reference carries the
	// facilitator's settlement reference.
	VerdictAccepted VerdictKind = "accepted"
	// VerdictRejected means the facilitator examined the proof and refused
	// it. Rejections are final for this proof.
	VerdictRejected VerdictKind = "rejected"
	// VerdictPending means the facilitator accepted the submission but
	// settlement has not completed yet.
	VerdictPending VerdictKind = "pending"
)

// Verdict is the structured settlement outcome. Exactly one of Reference
// (accepted) or Reason (rejected) is meaningful; pending carries neither.
type Verdict struct {
	Kind      VerdictKind
	Reference string
	Reason    string
}

// RetryPolicy bounds how settlement calls are retried. Only transport level
// failures are retried; an explicit rejection is never resubmitted.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	Backoff    time.Duration // sleep before each retry, doubled per attempt
}

// DefaultRetryPolicy allows a single retry with a short backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Backoff: 250 * time.Millisecond}
}

// Config configures the facilitator client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // hard per-call deadline
	AuthToken string        // optional bearer token
	Retry     RetryPolicy
}

// Client submits verified payment proofs to the facilitator for settlement.
type Client struct {
	baseURL   string
	authToken string
	timeout   time.Duration
	retry     RetryPolicy
	http      *http.Client
	breaker   *circuitbreaker.Breaker
	metrics   *metrics.Metrics
}

// New creates a facilitator client. breaker and m may be nil.
func New(cfg Config, breaker *circuitbreaker.Breaker, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.Backoff <= 0 {
		retry.Backoff = 250 * time.Millisecond
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		timeout:   timeout,
		retry:     retry,
		http:      httputil.NewClient(timeout),
		breaker:   breaker,
		metrics:   m,
	}
}

// settleRequest is the wire format POSTed to {base}/settle.
type settleRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// settleResponse is the facilitator's answer.
type settleResponse struct {
	Success     bool   `json:"success"`
	Pending     bool   `json:"pending,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Settle submits a verified proof for settlement and returns the verdict.
// Transport failures and 5xx responses are retried per the retry policy and
// surface as ErrUnavailable once exhausted. A context past its deadline stops
// retrying immediately.
func (c *Client) Settle(ctx context.Context, proof x402.PaymentProof, req x402.PaymentRequirement) (Verdict, error) {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(settleRequest{
		X402Version: x402.X402Version,
		PaymentPayload: x402.PaymentPayload{
			X402Version: proof.X402Version,
			Scheme:      proof.Scheme,
			Network:     proof.Network,
			Payload: x402.ExactPayload{
				Payer:     proof.Payer,
				Signature: proof.Signature,
				Nonce:     proof.Nonce,
				IssuedAt:  proof.IssuedAt,
				Amount:    proof.Amount,
				Resource:  proof.Resource,
				Memo:      proof.Memo,
			},
		},
		PaymentRequirements: req,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal settle request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordFacilitatorRetry()
			backoff := c.retry.Backoff << (attempt - 1)
			log.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("facilitator.retrying")
			select {
			case <-ctx.Done():
				return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}

		verdict, retryable, err := c.settleOnce(ctx, log, body)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		if !retryable {
			return Verdict{}, err
		}
	}

	return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// settleOnce performs a single settlement call behind the circuit breaker.
// The retryable flag is true only for transport failures and 5xx responses.
func (c *Client) settleOnce(ctx context.Context, log zerolog.Logger, body []byte) (Verdict, bool, error) {
	start := time.Now()

	result, err := c.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.post(callCtx, body)
	})

	if err != nil {
		c.metrics.ObserveFacilitatorCall("error", start)
		log.Warn().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("facilitator.settle_failed")
		return Verdict{}, true, err
	}

	resp := result.(settleResponse)
	switch {
	case resp.Success:
		c.metrics.ObserveFacilitatorCall("accepted", start)
		return Verdict{Kind: VerdictAccepted, Reference: resp.Transaction}, false, nil
	case resp.Pending:
		c.metrics.ObserveFacilitatorCall("pending", start)
		return Verdict{Kind: VerdictPending}, false, nil
	default:
		c.metrics.ObserveFacilitatorCall("rejected", start)
		log.Info().
			Str("reason", resp.ErrorReason).
			Msg("facilitator.settle_rejected")
		return Verdict{Kind: VerdictRejected, Reason: resp.ErrorReason}, false, nil
	}
}

func (c *Client) post(ctx context.Context, body []byte) (settleResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settle", bytes.NewReader(body))
	if err != nil {
		return settleResponse{}, fmt.Errorf("build settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return settleResponse{}, fmt.Errorf("settle call: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return settleResponse{}, fmt.Errorf("read settle response: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return settleResponse{}, fmt.Errorf("facilitator returned %d", httpResp.StatusCode)
	}

	var resp settleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return settleResponse{}, fmt.Errorf("parse settle response (%d): %w", httpResp.StatusCode, err)
	}

	// Non-2xx with a parseable body is an explicit rejection, not an outage.
	if httpResp.StatusCode >= 400 && resp.ErrorReason == "" {
		resp.ErrorReason = fmt.Sprintf("facilitator refused settlement (status %d)", httpResp.StatusCode)
	}
	return resp, nil
}
