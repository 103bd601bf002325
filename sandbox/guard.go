package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// TimeoutError reports that a guarded execution exceeded its deadline.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Code execution timed out after %g seconds", e.Limit.Seconds())
}

// guardSignal is the value handed to the interpreter interrupt, so interrupts
// raised by the guard can be told apart from any other interrupt source.
type guardSignal struct{}

// TimeoutGuard bounds one execution with a preemptive wall-clock deadline.
// Every guard owns its own deadline state and watches a single environment,
// so concurrent executions never share timer machinery.
type TimeoutGuard struct {
	limit time.Duration
}

// NewTimeoutGuard creates a guard enforcing the given limit.
func NewTimeoutGuard(limit time.Duration) *TimeoutGuard {
	return &TimeoutGuard{limit: limit}
}

// Run executes body under the deadline. The environment is interrupted when
// the guard's context ends, whether from the deadline expiring or the caller
// canceling, and the interrupt is always disarmed again before Run returns,
// whatever the exit path: normal completion, a failure inside body, or the
// interrupt itself. Returning with the interrupt still pending would poison a
// later, unrelated execution, so the disarm sequence waits for the watcher to
// finish before clearing the flag.
//
// The context passed to body carries the deadline; native calls that block
// (such as datetime.sleep) abort through it, while interpreted code is
// stopped by the interrupt.
func (g *TimeoutGuard) Run(ctx context.Context, env *Environment, body func(context.Context) error) error {
	runCtx, cancel := context.WithTimeout(ctx, g.limit)

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		<-runCtx.Done()
		env.Interrupt(guardSignal{})
	}()

	env.bindContext(runCtx)

	defer func() {
		cancel()
		<-watcherDone
		env.ClearInterrupt()
	}()

	err := body(runCtx)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// The deadline expired while body was failing or being interrupted;
		// the deadline is what the caller needs to hear about.
		return &TimeoutError{Limit: g.limit}
	case interruptedByGuard(err):
		return fmt.Errorf("execution canceled: %w", context.Cause(runCtx))
	default:
		return err
	}
}

func interruptedByGuard(err error) bool {
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		return false
	}
	_, ok := interrupted.Value().(guardSignal)
	return ok
}
