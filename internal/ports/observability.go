package ports

import "context"

// MetricsCollector records quantitative observability signals. Standard
// metric names include:
//   - Counters:
//     pipez_operator_state_changes_total{pipeline="...", state="..."}
//     pipez_records_sent_total{channel="..."}
//     pipez_records_retrieved_total{channel="..."}
//     pipez_send_failures_total{channel="..."}
//     pipez_operator_restarts_total{pipeline="..."}
//   - Gauges:
//     pipez_operators_running{pipeline="..."}
//     pipez_pipelines_deployed
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	AddCounter(ctx context.Context, name string, value float64, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	AddGauge(ctx context.Context, name string, delta float64, labels map[string]string)
}
