package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/isdmx/scriptbox/sandbox"
)

// InstrumentedExecutor wraps a sandbox.ScriptExecutor with metrics and
// tracing. Either component may be nil; disabled features cost a single nil
// check per execution.
type InstrumentedExecutor struct {
	inner   sandbox.ScriptExecutor
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedExecutor wraps an executor with observability.
func NewInstrumentedExecutor(inner sandbox.ScriptExecutor, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedExecutor {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedExecutor{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, req sandbox.ExecuteRequest) (sandbox.ExecuteResult, error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.Int("script.source_len", len(req.Code)),
			))
		defer span.End()
	}

	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	start := time.Now()
	result, err := e.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := string(result.Status)
	if err != nil {
		status = "error"
	}

	if e.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("sandbox.status", string(result.Status)),
				attribute.Bool("sandbox.success", result.Success),
			)
			if len(result.Violations) > 0 {
				span.SetAttributes(attribute.Int("sandbox.violations", len(result.Violations)))
			}
		}
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(status).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(status).Observe(duration)
		for _, v := range result.Violations {
			e.metrics.ViolationsTotal.WithLabelValues(string(v.Kind)).Inc()
		}
		if result.Truncated {
			e.metrics.OutputTruncatedTotal.Inc()
		}
	}

	return result, err
}

var _ sandbox.ScriptExecutor = (*InstrumentedExecutor)(nil)
