// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the script sandbox. All components are optional and nil-safe;
// when disabled, the executor wrapper skips recording with a single nil
// check per execution.
//
// Usage:
//
//	obs, err := observability.New(&cfg.Observability)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//	executor = obs.Instrument(executor)
package observability
