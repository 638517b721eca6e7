package reconcile

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/trailog/recorder/internal/reconcile"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
