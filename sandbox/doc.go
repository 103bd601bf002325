// Package sandbox provides secure execution of untrusted script snippets.
//
// The sandbox package implements the execution engine for running untrusted
// JavaScript snippets inside isolated, policy-restricted interpreter
// environments. Safety comes from three cooperating layers: a static analysis
// pass that rejects snippets reaching for dangerous operations before any code
// runs, a restricted per-call environment whose module loader re-validates
// every import at call time, and a preemptive wall-clock deadline that
// interrupts runaway executions.
//
// Every execution is self-contained. The runner builds a fresh environment
// per call and discards it afterward, so no variable, module binding, or
// interpreter state survives from one snippet to the next.
//
// Usage:
//
//	runner := sandbox.NewRunner(logger, sandbox.DefaultPolicy())
//	result, err := runner.Execute(ctx, sandbox.ExecuteRequest{
//	    Code: `const math = require("math"); print(math.sqrt(16));`,
//	})
package sandbox
