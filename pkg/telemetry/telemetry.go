package telemetry

import (
	"context"

	"github.com/smallbiznis/vestora/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
)

// CorrelationSpanProcessor stamps every span with the request correlation id,
// creating one when the context has none.
type CorrelationSpanProcessor struct{}

func (p *CorrelationSpanProcessor) OnStart(ctx context.Context, s trace.ReadWriteSpan) {
	_, cid := correlation.EnsureCorrelationID(ctx)
	s.SetAttributes(attribute.String("correlation_id", cid))
}

func (p *CorrelationSpanProcessor) OnEnd(trace.ReadOnlySpan) {}

func (p *CorrelationSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *CorrelationSpanProcessor) ForceFlush(context.Context) error { return nil }
