package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Required: the embedded API document parsed and validated.
	OpenAPILoaded func() bool

	// Optional checks, only run if non-nil.
	OnboardingStore  HealthChecker
	IdempotencyStore HealthChecker
	Notifier         HealthChecker
}

const checkTimeout = 2 * time.Second

const (
	checkOK    = "ok"
	checkError = "error"
)

// HandleHealth serves the liveness probe. It never consults dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady serves the readiness probe. Dependency checks run
// concurrently, each bounded by checkTimeout, and any failure reports 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		named := map[string]HealthChecker{
			"onboarding_store":  checks.OnboardingStore,
			"idempotency_store": checks.IdempotencyStore,
			"notifier":          checks.Notifier,
		}

		results := make(map[string]CheckResult, len(named)+1)
		results["openapi_document"] = documentCheck(checks.OpenAPILoaded)

		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		for name, checker := range named {
			if checker == nil {
				continue
			}
			g.Go(func() error {
				res := runCheck(r.Context(), checker)
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		code := http.StatusOK
		for _, res := range results {
			if res.Status != checkOK {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeProbe(w, code, resp)
	}
}

func documentCheck(loaded func() bool) CheckResult {
	if loaded != nil && loaded() {
		return CheckResult{Status: checkOK}
	}
	return CheckResult{Status: checkError, Error: "API document not loaded"}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: checkOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = checkError
		res.Error = err.Error()
	}
	return res
}

func writeProbe(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
