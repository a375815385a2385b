package alert

import (
	"context"

	"log-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier sends alerts to local logs
type LogAlertNotifier struct {
	logger *logrus.Logger
}

// NewLogAlertNotifier creates a new log alert notifier
func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

// SendAlert implements Notifier interface - sends alert to logs
func (ln *LogAlertNotifier) SendAlert(_ context.Context, alert model.Alert) error {
	fields := logrus.Fields{
		"alert_id": alert.ID,
		"address":  alert.Address,
		"category": alert.Category,
	}
	if alert.Rule != "" {
		fields["rule"] = alert.Rule
	}
	if alert.Recipient != "" {
		fields["recipient"] = alert.Recipient
	}
	ln.logger.WithFields(fields).Warnf("ALERT [%s] %s", alert.Severity, alert.Description)
	return nil
}
