package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mirrorlake/warden/internal/breaker"
	"github.com/mirrorlake/warden/internal/metrics"
)

// Probe is the only coupling an external API collaborator must satisfy: a
// connectivity test returning whether the dependency is reachable.
type Probe func(ctx context.Context) (bool, error)

// NewHTTPProbe builds a Probe that GETs url. A transport error is an error,
// a 5xx answer is "responding but not reachable", anything else reachable.
func NewHTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		_ = resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError, nil
	}
}

// APIChecker tests an external dependency through a circuit breaker. A
// reachable dependency is healthy, an unreachable-but-responding one degraded,
// and an error (including a fast-failed open breaker) unhealthy.
type APIChecker struct {
	component string
	probe     Probe
	breaker   *breaker.Breaker
}

func NewAPIChecker(component string, probe Probe, b *breaker.Breaker) *APIChecker {
	return &APIChecker{component: component, probe: probe, breaker: b}
}

func (c *APIChecker) Name() string { return c.component }

// Breaker exposes the underlying breaker for the introspection surface.
func (c *APIChecker) Breaker() *breaker.Breaker { return c.breaker }

func (c *APIChecker) Check(ctx context.Context) []Result {
	started := time.Now()
	res, err := c.breaker.Do(ctx, func(ctx context.Context) (any, error) {
		ok, perr := c.probe(ctx)
		return ok, perr
	})

	var r Result
	switch {
	case err != nil:
		r = newResult(c.component, StatusUnhealthy, fmt.Sprintf("connectivity test failed: %v", err), started)
	case res == true:
		r = newResult(c.component, StatusHealthy, "reachable", started)
	default:
		r = newResult(c.component, StatusDegraded, "connectivity test returned not reachable", started)
	}

	st := c.breaker.Status()
	metrics.SetBreakerState(st.Name, st.State.Severity())
	r.Details = map[string]any{
		"breaker_state":    string(st.State),
		"breaker_failures": st.Failures,
	}
	return []Result{r}
}
