package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/connector-hub/connector-hub/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// requestCount returns the http_requests_total value for labels, or 0 when
// the series does not exist yet.
func requestCount(labels prometheus.Labels) float64 {
	c, err := telemetry.HTTPRequestsTotal.GetMetricWith(labels)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func pathLabels() map[string]bool {
	seen := map[string]bool{}
	ch := make(chan prometheus.Metric, 64)
	telemetry.HTTPRequestsTotal.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == "path" {
				seen[lp.GetValue()] = true
			}
		}
	}
	return seen
}

func serveMetrics(status int, target string) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/organizations/:orgId/tools", func(c *gin.Context) { c.Status(status) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
}

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/organizations/:orgId/tools", "status": "200"}
	before := requestCount(labels)

	serveMetrics(http.StatusOK, "/api/v1/organizations/org-42/tools")

	if after := requestCount(labels); after-before != 1 {
		t.Errorf("http_requests_total delta = %.0f, want 1", after-before)
	}
	if pathLabels()["/api/v1/organizations/org-42/tools"] {
		t.Error("raw URL used as path label, want route template")
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/organizations/:orgId/tools", "status": "503"}
	before := requestCount(labels)

	serveMetrics(http.StatusServiceUnavailable, "/api/v1/organizations/org-1/tools")

	if after := requestCount(labels); after-before != 1 {
		t.Errorf("http_requests_total{status=503} delta = %.0f, want 1", after-before)
	}
}

func TestMetricsMiddleware_NoRouteLabel(t *testing.T) {
	serveMetrics(http.StatusOK, "/does-not-exist")
	if !pathLabels()["<no-route>"] {
		t.Error("expected path label <no-route> for unmatched request")
	}
}
