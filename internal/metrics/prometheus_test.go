package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorUpdatesVectors(t *testing.T) {
	ctx := context.Background()
	p := New(nil)

	p.IncCounter(ctx, StateChanges, map[string]string{"pipeline": "demo", "state": "Running"})
	p.IncCounter(ctx, StateChanges, map[string]string{"pipeline": "demo", "state": "Running"})
	p.AddGauge(ctx, OperatorsRunning, 2, map[string]string{"pipeline": "demo"})
	p.AddGauge(ctx, OperatorsRunning, -1, map[string]string{"pipeline": "demo"})
	p.SetGauge(ctx, Deployed, 3, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.counters[StateChanges].WithLabelValues("demo", "Running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.gauges[OperatorsRunning].WithLabelValues("demo")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.gauges[Deployed].WithLabelValues()))
}

func TestCollectorIgnoresUnknownNamesAndLabels(t *testing.T) {
	ctx := context.Background()
	p := New(nil)

	assert.NotPanics(t, func() {
		p.IncCounter(ctx, "pipez_unknown_total", nil)
		p.IncCounter(ctx, Restarts, map[string]string{"wrong": "label"})
		p.AddGauge(ctx, "pipez_unknown", 1, nil)
		p.SetGauge(ctx, OperatorsRunning, 1, map[string]string{"pipeline": "a", "extra": "b"})
	})
}

func TestObserverCountsRecords(t *testing.T) {
	p := New(nil)

	p.RecordsSent("demo.writer.output", 5)
	p.RecordsRetrieved("demo.writer.output", 4)
	p.SendFailed("demo.writer.output")

	assert.Equal(t, 5.0, testutil.ToFloat64(p.counters[RecordsSent].WithLabelValues("demo.writer.output")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.counters[RecordsRetrieved].WithLabelValues("demo.writer.output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.counters[SendFailures].WithLabelValues("demo.writer.output")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	p := New(nil)
	p.RecordsSent("demo.writer.output", 1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pipez_records_sent_total{channel="demo.writer.output"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), "pipez_pipelines_deployed 0", "unlabelled gauges are exported before any update")
}
