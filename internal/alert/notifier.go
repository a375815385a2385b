package alert

import (
	"context"

	"log-guard/internal/client"
	"log-guard/internal/model"
)

// Notifier interface for alert notification
type Notifier interface {
	SendAlert(ctx context.Context, alert model.Alert) error
}

// MetricsNotifier counts alerts by severity and category.
type MetricsNotifier struct {
	metrics *client.PrometheusMetrics
}

func NewMetricsNotifier(metrics *client.PrometheusMetrics) *MetricsNotifier {
	return &MetricsNotifier{metrics: metrics}
}

func (mn *MetricsNotifier) SendAlert(_ context.Context, alert model.Alert) error {
	mn.metrics.RecordAlert(alert.Severity.String(), alert.Category)
	return nil
}
