package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks: verify every exported metric is properly
// registered and carries the expected fully-qualified name.
//
// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"connector_hub_http_requests_total", HTTPRequestsTotal},
		{"connector_hub_http_request_duration_seconds", HTTPRequestDuration},
		{"connector_hub_token_refreshes_total", TokenRefreshesTotal},
		{"connector_hub_token_refresh_duration_seconds", TokenRefreshDuration},
		{"connector_hub_classifier_verdicts_total", ClassifierVerdictsTotal},
		{"connector_hub_disconnects_total", DisconnectsTotal},
		{"connector_hub_composed_tools", ComposedToolsCount},
		{"connector_hub_db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				// Desc.String() has the form Desc{fqName: "<name>", help: "...", ...}
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_HTTPRequestsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/test", "status": "200"}
	before := counterValue(t, HTTPRequestsTotal, labels)
	HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	after := counterValue(t, HTTPRequestsTotal, labels)
	if after-before < 1 {
		t.Errorf("HTTPRequestsTotal.Inc() did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestRecordClassifierVerdict(t *testing.T) {
	dead := prometheus.Labels{"provider": "jira", "verdict": "credential_failure"}
	transient := prometheus.Labels{"provider": "jira", "verdict": "transient"}

	beforeDead := counterValue(t, ClassifierVerdictsTotal, dead)
	beforeTransient := counterValue(t, ClassifierVerdictsTotal, transient)

	RecordClassifierVerdict("jira", true)
	RecordClassifierVerdict("jira", false)
	RecordClassifierVerdict("jira", false)

	if got := counterValue(t, ClassifierVerdictsTotal, dead) - beforeDead; got != 1 {
		t.Errorf("credential_failure delta = %.0f, want 1", got)
	}
	if got := counterValue(t, ClassifierVerdictsTotal, transient) - beforeTransient; got != 2 {
		t.Errorf("transient delta = %.0f, want 2", got)
	}
}

func TestMetrics_TokenRefreshes_CanBeObserved(t *testing.T) {
	TokenRefreshesTotal.WithLabelValues("gitlab", "success").Inc()
	TokenRefreshDuration.WithLabelValues("gitlab").Observe(0.2)
	ComposedToolsCount.Observe(12)
	// If no panic, the collectors are functioning.
}

func TestMetrics_DBOpenConnections_CanBeSet(t *testing.T) {
	DBOpenConnections.Set(5)
	DBOpenConnections.Set(0) // reset to neutral value
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
