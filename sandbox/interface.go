package sandbox

import (
	"context"
	"time"
)

// ExecuteRequest carries one snippet plus the policy overrides a caller may
// apply on top of the executor's default policy. Zero values defer to the
// default: a zero TimeoutSec keeps the default timeout, and a nil
// AllowedModules keeps the default allow-list (an empty, non-nil slice allows
// no modules at all).
type ExecuteRequest struct {
	Code           string
	TimeoutSec     int
	AllowedModules []string
}

// Status is the terminal state of one execution.
type Status string

const (
	// StatusCompleted means the snippet ran to the end.
	StatusCompleted Status = "completed"
	// StatusRejected means static analysis refused the snippet before any
	// code ran.
	StatusRejected Status = "rejected"
	// StatusFailed means the snippet (or the environment setup) failed at
	// runtime.
	StatusFailed Status = "failed"
	// StatusTimedOut means the deadline interrupted the snippet.
	StatusTimedOut Status = "timed_out"
)

// ExecuteResult is the normalized outcome of one execution. Results are
// always well formed: rejections, runtime failures, and timeouts are reported
// through Status, Success, and Error rather than as Go errors, and Output
// holds whatever the snippet printed before it stopped.
type ExecuteResult struct {
	ID         string
	Status     Status
	Success    bool
	Output     string
	Error      string
	Value      any
	Duration   time.Duration
	Violations []Violation
	Truncated  bool
}

// ScriptExecutor defines the interface for sandboxed snippet execution.
// Implementations must be safe for concurrent use.
type ScriptExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}
