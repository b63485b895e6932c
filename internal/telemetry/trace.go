package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ansh-stack00/svaraAI/voice"

// Tracer returns the pipeline tracer from the global provider. Without an
// installed SDK provider the spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
