package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner implements ScriptExecutor with the analyze/build/guard pipeline. A
// Runner holds no per-call state and is safe for concurrent use: every
// execution gets its own freshly built environment and its own deadline.
type Runner struct {
	logger        *zap.Logger
	defaultPolicy Policy
	builder       *EnvironmentBuilder
}

// RunnerOption defines a functional option for Runner.
type RunnerOption func(*Runner)

// WithModuleRegistry serves modules from registry instead of the built-in
// set.
func WithModuleRegistry(registry *ModuleRegistry) RunnerOption {
	return func(r *Runner) {
		r.builder = NewEnvironmentBuilder(r.logger, registry)
	}
}

// NewRunner creates a Runner whose requests resolve against defaultPolicy.
func NewRunner(logger *zap.Logger, defaultPolicy Policy, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:        logger,
		defaultPolicy: defaultPolicy.withDefaults(),
	}
	r.builder = NewEnvironmentBuilder(logger, DefaultRegistry())

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute implements ScriptExecutor by resolving the request against the
// default policy. The returned error is always nil for a local Runner; every
// outcome is reported inside the result.
func (r *Runner) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	policy := r.defaultPolicy
	if req.TimeoutSec > 0 {
		policy.Timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	if req.AllowedModules != nil {
		policy.AllowedModules = req.AllowedModules
	}
	return r.Run(ctx, req.Code, policy), nil
}

// Run executes one snippet under the given policy and returns a well-formed
// result on every path. Rejection by static analysis happens before any
// environment exists, so a rejected snippet can have no side effects.
func (r *Runner) Run(ctx context.Context, source string, policy Policy) ExecuteResult {
	id := uuid.NewString()
	log := r.logger.With(zap.String("execution_id", id))
	policy = policy.withDefaults()

	result := ExecuteResult{ID: id}

	if err := policy.Validate(); err != nil {
		log.Warn("invalid execution policy", zap.Error(err))
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("invalid policy: %v", err)
		return result
	}

	log.Debug("analyzing snippet",
		zap.Int("source_len", len(source)),
		zap.Strings("allowed_modules", policy.AllowedModules),
		zap.Duration("timeout", policy.Timeout))

	if violations := Analyze(source, policy); len(violations) > 0 {
		log.Warn("snippet rejected by static analysis",
			zap.Int("violations", len(violations)))
		result.Status = StatusRejected
		result.Violations = violations
		result.Error = renderViolations(violations)
		return result
	}

	env, err := r.builder.Build(policy)
	if err != nil {
		log.Error("restricted environment construction failed", zap.Error(err))
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("sandbox environment setup failed: %v", err)
		return result
	}

	program, err := goja.Compile(snippetFilename, source, false)
	if err != nil {
		// Analysis already parsed the source, so this is unreachable in
		// practice; it still must surface as a result, not a Go error.
		log.Error("snippet compilation failed after analysis", zap.Error(err))
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("snippet compilation failed: %v", err)
		return result
	}

	guard := NewTimeoutGuard(policy.Timeout)
	start := time.Now()
	runErr := guard.Run(ctx, env, func(context.Context) error {
		_, err := env.RunProgram(program)
		return err
	})
	result.Duration = time.Since(start)
	result.Output = env.Output()
	result.Truncated = env.OutputTruncated()

	var timeoutErr *TimeoutError
	switch {
	case runErr == nil:
		result.Status = StatusCompleted
		result.Success = true
		if value, ok := env.Sentinel(); ok {
			result.Value = value
		}
	case errors.As(runErr, &timeoutErr):
		result.Status = StatusTimedOut
		result.Error = timeoutErr.Error()
		log.Warn("snippet timed out", zap.Duration("limit", policy.Timeout))
	default:
		result.Status = StatusFailed
		result.Error = "Error during execution: " + formatRuntimeError(runErr)
	}

	log.Info("execution finished",
		zap.String("status", string(result.Status)),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration),
		zap.Int("output_len", len(result.Output)),
		zap.Bool("output_truncated", result.Truncated))

	return result
}

// renderViolations joins violations into the error string callers see.
func renderViolations(violations []Violation) string {
	lines := make([]string, 0, len(violations))
	for _, v := range violations {
		lines = append(lines, v.String())
	}
	return "Safety violations detected:\n" + strings.Join(lines, "\n")
}

// formatRuntimeError renders a snippet failure, keeping the script stack
// trace the interpreter attaches to thrown values.
func formatRuntimeError(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception.String()
	}
	return err.Error()
}
