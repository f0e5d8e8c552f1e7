package ports

import "context"

// Severity classifies a Telemetry alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notifier is the out-of-band alerting contract (§4.B). Delivery is
// best-effort and never sits on the request path: failures to notify are
// logged and swallowed by the implementation, never returned to a caller
// that would act on them.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, subject, body string)
}
