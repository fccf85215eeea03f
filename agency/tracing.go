package agency

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/kadirpekel/agency/agency")

// startTurnSpan opens a span around one agent turn, labeled with the
// agency and agent name. With no OTel SDK configured upstream, otel's
// default no-op tracer makes this free.
func (ag *Agency) startTurnSpan(ctx context.Context, agentName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agency.turn", trace.WithAttributes(
		attribute.String("agency.name", ag.name),
		attribute.String("agency.agent", agentName),
	))
}
