// Package notification delivers operator alerts raised by the measurement
// pipeline (stale series, threshold breaches, crash reports) to external
// channels: mail, webhooks, or just the log.
package notification

import (
	"context"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	// AlertWarning covers measurement problems: a series gone silent or a
	// temperature outside its configured range.
	AlertWarning AlertLevel = "WARNING"

	// AlertCritical is reserved for crash reports.
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification to be delivered.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all delivery backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. It backs every deployment
// where mail is not configured, and doubles as the development notifier.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to several backends. Delivery failures are logged
// and do not stop the remaining backends; the first error is returned.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
