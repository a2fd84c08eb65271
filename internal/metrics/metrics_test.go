package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/v1/render", "200"))
	RecordHTTPRequest("POST", "/v1/render", 200, 120*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/v1/render", "200"))

	if after-before != 1 {
		t.Fatalf("requests_total delta = %v, want 1", after-before)
	}
}

func TestRecordRender(t *testing.T) {
	okBefore := testutil.ToFloat64(RenderOutcomes.WithLabelValues("success"))
	failBefore := testutil.ToFloat64(RenderOutcomes.WithLabelValues("failure"))

	RecordRender(true, time.Second)
	RecordRender(false, time.Second)
	RecordRender(false, time.Second)

	if d := testutil.ToFloat64(RenderOutcomes.WithLabelValues("success")) - okBefore; d != 1 {
		t.Fatalf("success delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(RenderOutcomes.WithLabelValues("failure")) - failBefore; d != 2 {
		t.Fatalf("failure delta = %v, want 2", d)
	}
}
