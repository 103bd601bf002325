package observability

import (
	"context"
	"fmt"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/sandbox"
)

// Observability is the top-level facade holding the enabled observability
// components. Any field may be nil when that feature is disabled.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
}

// New creates an Observability instance from config. A nil config disables
// every feature.
func New(cfg *config.ObservabilityConfig) (*Observability, error) {
	obs := &Observability{}
	if cfg == nil {
		return obs, nil
	}

	if cfg.MetricsEnabled {
		obs.Metrics = NewMetricsCollector()
	}

	if cfg.TracingEnabled {
		ts, err := NewTracerSetup(cfg)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}

	return obs, nil
}

// Instrument wraps executor with whatever observability is enabled. With
// everything disabled the executor is returned untouched.
func (o *Observability) Instrument(executor sandbox.ScriptExecutor) sandbox.ScriptExecutor {
	if o == nil || (o.Metrics == nil && o.Tracer == nil) {
		return executor
	}
	return NewInstrumentedExecutor(executor, o.Metrics, o.Tracer)
}

// Shutdown releases observability resources.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		_ = o.Tracer.Shutdown(ctx)
	}
}
