package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"copytrader/internal/ports"
)

func TestSeverityLabelCoversAllLevels(t *testing.T) {
	assert.Equal(t, "CRITICAL", severityLabel(ports.SeverityCritical))
	assert.Equal(t, "WARNING", severityLabel(ports.SeverityWarning))
	assert.Equal(t, "INFO", severityLabel(ports.SeverityInfo))
}

func TestNullNotifierNeverPanics(t *testing.T) {
	var n ports.Notifier = NullNotifier{}
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), ports.SeverityCritical, "subject", "body")
	})
}
