package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// moduleLoaderName is the global function snippets call to import a module.
const moduleLoaderName = "require"

// sentinelName is the global a snippet assigns to communicate a result value
// back to the caller.
const sentinelName = "_"

// hardeningProlog runs in every fresh environment before user code. Removing
// the Function global is not enough: the constructor stays reachable through
// function prototypes, so those routes are pinned to a throwing guard here.
const hardeningProlog = `
(function () {
	'use strict';
	var guard = function () {
		throw new Error('dynamic code compilation is disabled in this sandbox');
	};
	var pin = function (proto) {
		Object.defineProperty(proto, 'constructor', {
			value: guard, writable: false, configurable: false,
		});
	};
	pin(Object.getPrototypeOf(function () {}));
	pin(Object.getPrototypeOf(function* () {}));
	pin(Object.getPrototypeOf(async function () {}));
	pin(Object.getPrototypeOf(async function* () {}));
})();
`

// outputBuffer captures everything the snippet prints, up to a fixed cap.
// Writes past the cap are dropped rather than failing the execution; the
// truncation is reported alongside the result instead.
type outputBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) WriteString(s string) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return
	}
	if len(s) > remaining {
		s = s[:remaining]
		b.truncated = true
	}
	b.buf.WriteString(s)
}

func (b *outputBuffer) String() string  { return b.buf.String() }
func (b *outputBuffer) Truncated() bool { return b.truncated }

// Environment is a single-use, policy-restricted interpreter instance. It is
// created fresh for every execution and discarded afterward; that discard is
// what guarantees no state can leak from one snippet to the next. An
// Environment must only be driven from one goroutine, except for Interrupt
// and ClearInterrupt which are safe to call concurrently with a running
// snippet.
type Environment struct {
	vm      *goja.Runtime
	policy  Policy
	logger  *zap.Logger
	output  *outputBuffer
	modules map[string]goja.Value
	ctx     context.Context
}

// EnvironmentBuilder constructs restricted environments from a policy and a
// module registry.
type EnvironmentBuilder struct {
	logger   *zap.Logger
	registry *ModuleRegistry
}

// NewEnvironmentBuilder creates a builder serving modules from registry. A
// nil registry falls back to the built-in module set.
func NewEnvironmentBuilder(logger *zap.Logger, registry *ModuleRegistry) *EnvironmentBuilder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &EnvironmentBuilder{logger: logger, registry: registry}
}

// Build returns a fresh restricted environment for one execution: dangerous
// globals unbound, constructor routes to dynamic compilation pinned shut,
// print and console writing into a capped buffer, the policy-enforcing module
// loader installed, and every allowed module that can be constructed bound
// into the global namespace.
func (b *EnvironmentBuilder) Build(policy Policy) (*Environment, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(policy.MaxStackDepth)

	env := &Environment{
		vm:      vm,
		policy:  policy,
		logger:  b.logger,
		output:  newOutputBuffer(policy.MaxOutputBytes),
		modules: make(map[string]goja.Value, len(policy.AllowedModules)),
		ctx:     context.Background(),
	}

	if err := env.unbindRestrictedGlobals(); err != nil {
		return nil, fmt.Errorf("unbinding restricted globals: %w", err)
	}
	if _, err := vm.RunString(hardeningProlog); err != nil {
		return nil, fmt.Errorf("applying hardening prolog: %w", err)
	}
	if err := env.installOutput(); err != nil {
		return nil, fmt.Errorf("installing output capture: %w", err)
	}
	if err := env.installModuleLoader(); err != nil {
		return nil, fmt.Errorf("installing module loader: %w", err)
	}
	env.bindAllowedModules(b.registry)

	return env, nil
}

// unbindRestrictedGlobals rebinds every name in the restricted-builtins table
// to undefined. The same table drives the static analyzer, keeping the two
// enforcement layers in agreement.
func (e *Environment) unbindRestrictedGlobals() error {
	for name := range restrictedBuiltins {
		if err := e.vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("unbinding %s: %w", name, err)
		}
	}
	return nil
}

func (e *Environment) installOutput() error {
	printFn := func(call goja.FunctionCall) goja.Value {
		e.writeLine(call.Arguments)
		return goja.Undefined()
	}
	if err := e.vm.Set("print", printFn); err != nil {
		return err
	}
	console := e.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, printFn); err != nil {
			return err
		}
	}
	return e.vm.Set("console", console)
}

// writeLine renders one print call: arguments joined by single spaces,
// objects and arrays as JSON, plus a trailing newline.
func (e *Environment) writeLine(args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatValue(arg))
	}
	e.output.WriteString(strings.Join(parts, " "))
	e.output.WriteString("\n")
}

func formatValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if data, err := json.Marshal(obj.Export()); err == nil {
			return string(data)
		}
	}
	return v.String()
}

func (e *Environment) installModuleLoader() error {
	loader := func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		value, err := e.loadModule(name)
		if err != nil {
			panic(e.vm.NewGoError(err))
		}
		return value
	}
	return e.vm.Set(moduleLoaderName, loader)
}

// loadModule enforces the import policy at call time. Static analysis already
// screens literal module names; this hook is the layer that catches names
// computed at runtime.
func (e *Environment) loadModule(name string) (goja.Value, error) {
	top := topLevelModule(name)
	if !e.policy.AllowsImport(top) {
		return nil, fmt.Errorf("Unauthorized import: %s", top)
	}
	value, ok := e.modules[top]
	if !ok {
		return nil, fmt.Errorf("module %q is not available in this sandbox", top)
	}
	return value, nil
}

// bindAllowedModules eagerly binds every allowed, constructible module into
// the global namespace. A module that cannot be built is skipped, not a build
// failure: the snippet only sees an error if it actually asks for that name.
func (e *Environment) bindAllowedModules(registry *ModuleRegistry) {
	for _, name := range e.policy.AllowedModules {
		builder, ok := registry.Lookup(name)
		if !ok {
			e.logger.Debug("allowed module has no builder, skipping",
				zap.String("module", name))
			continue
		}
		value, err := builder(e)
		if err != nil {
			e.logger.Debug("allowed module failed to build, skipping",
				zap.String("module", name), zap.Error(err))
			continue
		}
		if err := e.vm.Set(name, value); err != nil {
			e.logger.Debug("binding module failed, skipping",
				zap.String("module", name), zap.Error(err))
			continue
		}
		e.modules[name] = value
	}
}

// RunProgram executes a compiled program against this environment.
func (e *Environment) RunProgram(program *goja.Program) (goja.Value, error) {
	return e.vm.RunProgram(program)
}

// bindContext attaches the context observed by native module calls (such as
// datetime.sleep) for the duration of a run.
func (e *Environment) bindContext(ctx context.Context) {
	if ctx != nil {
		e.ctx = ctx
	}
}

func (e *Environment) runContext() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// Interrupt asks the interpreter to abort at the next instruction boundary.
func (e *Environment) Interrupt(v any) {
	e.vm.Interrupt(v)
}

// ClearInterrupt resets the interrupt flag so a disarmed deadline cannot leak
// into any later use of the runtime.
func (e *Environment) ClearInterrupt() {
	e.vm.ClearInterrupt()
}

// Output returns everything printed so far.
func (e *Environment) Output() string { return e.output.String() }

// OutputTruncated reports whether prints were dropped at the output cap.
func (e *Environment) OutputTruncated() bool { return e.output.Truncated() }

// Sentinel returns the exported value bound to the result sentinel, if the
// snippet assigned one.
func (e *Environment) Sentinel() (any, bool) {
	v := e.vm.Get(sentinelName)
	if v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	return v.Export(), true
}
