package observability

import (
	"testing"
	"time"

	"github.com/danmuck/contractrpc/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("contractd", "GET", "/health", 200, 12*time.Millisecond)
	RecordClientCall("calc", "Calculator", "Add", 200, 3*time.Millisecond)
	RecordHostRequest("socket", "Calculator", "Add", 200, time.Millisecond)

	if got := testutil.ToFloat64(clientCalls.WithLabelValues("calc", "Calculator", "Add", "200")); got != 1 {
		t.Fatalf("client calls = %v", got)
	}
	if err := prometheus.Register(hostRequests); err == nil {
		t.Fatalf("host metrics should already be registered")
	}
}
