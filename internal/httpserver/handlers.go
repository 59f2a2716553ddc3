package httpserver

import (
	"net/http"
	"sort"
	"time"

	"github.com/gatecharge/server/internal/gate"
	"github.com/gatecharge/server/pkg/responders"
	"github.com/gatecharge/server/pkg/x402"
)

type api struct {
	svc       *gate.Service
	version   string
	startedAt time.Time
}

func newAPI(svc *gate.Service, version string) *api {
	return &api{svc: svc, version: version, startedAt: time.Now()}
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.version,
		"uptime":  time.Since(a.startedAt).Round(time.Second).String(),
	})
}

// discoveryResponse lists every priced resource and its payment requirements,
// so clients can prepare proofs without first hitting a 402.
type discoveryResponse struct {
	X402Version int                       `json:"x402Version"`
	Accepts     []x402.PaymentRequirement `json:"accepts"`
}

func (a *api) discovery(w http.ResponseWriter, r *http.Request) {
	policies := a.svc.Policies()

	resources := make([]string, 0, len(policies))
	for resource := range policies {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	accepts := make([]x402.PaymentRequirement, 0, len(resources))
	for _, resource := range resources {
		reqs, err := a.svc.Requirements(resource)
		if err != nil {
			continue
		}
		accepts = append(accepts, reqs...)
	}

	responders.JSON(w, http.StatusOK, discoveryResponse{
		X402Version: x402.X402Version,
		Accepts:     accepts,
	})
}

// defaultContent serves a minimal JSON body for resources the embedding
// application did not supply a handler for.
func (a *api) defaultContent(resource string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responders.JSON(w, http.StatusOK, map[string]any{
			"resource": resource,
			"granted":  true,
		})
	})
}
