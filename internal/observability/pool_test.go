package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterPoolExposesStats(t *testing.T) {
	metrics := NewMetrics()
	err := metrics.RegisterPool(func() PoolStats {
		return PoolStats{Acquired: 2, Idle: 3, Total: 5, Max: 10, EmptyAcquire: 7}
	})
	if err != nil {
		t.Fatalf("register pool: %v", err)
	}

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		"odyssey_pg_pool_acquired_conns 2",
		"odyssey_pg_pool_total_conns 5",
		"odyssey_pg_pool_max_conns 10",
		"odyssey_pg_pool_empty_acquire_total 7",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %s, got: %s", want, body)
		}
	}

	if err := metrics.RegisterPool(func() PoolStats { return PoolStats{} }); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	var nilMetrics *Metrics
	if err := nilMetrics.RegisterPool(nil); err != nil {
		t.Fatalf("nil metrics: %v", err)
	}
}
