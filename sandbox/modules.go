package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// ModuleBuilder constructs the value a snippet receives for one module name.
// Builders run against the environment that requested the module, so the
// returned value must never be shared across environments.
type ModuleBuilder func(env *Environment) (goja.Value, error)

// ModuleRegistry maps importable module names to their builders. The registry
// itself is read-only during execution; populate it before handing it to a
// runner.
type ModuleRegistry struct {
	builders map[string]ModuleBuilder
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{builders: make(map[string]ModuleBuilder)}
}

// Register adds or replaces the builder for name.
func (r *ModuleRegistry) Register(name string, builder ModuleBuilder) {
	r.builders[name] = builder
}

// Lookup returns the builder for name, if one is registered.
func (r *ModuleRegistry) Lookup(name string) (ModuleBuilder, bool) {
	builder, ok := r.builders[name]
	return builder, ok
}

// Names returns the registered module names in sorted order.
func (r *ModuleRegistry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in module set. Exposed
// function names must stay clear of the restrictedAttributes table or the
// analyzer would reject straightforward snippets that use them.
func DefaultRegistry() *ModuleRegistry {
	r := NewModuleRegistry()
	r.Register("base64", base64Module)
	r.Register("datetime", datetimeModule)
	r.Register("json", jsonModule)
	r.Register("math", mathModule)
	r.Register("random", randomModule)
	r.Register("re", reModule)
	r.Register("statistics", statisticsModule)
	r.Register("strings", stringsModule)
	r.Register("uuid", uuidModule)
	return r
}

// objectBuilder collects Set errors so module builders stay flat.
type objectBuilder struct {
	obj *goja.Object
	err error
}

func newObjectBuilder(vm *goja.Runtime) *objectBuilder {
	return &objectBuilder{obj: vm.NewObject()}
}

func (b *objectBuilder) set(name string, value any) *objectBuilder {
	if b.err == nil {
		b.err = b.obj.Set(name, value)
	}
	return b
}

func (b *objectBuilder) value() (goja.Value, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.obj, nil
}

func mathModule(env *Environment) (goja.Value, error) {
	return newObjectBuilder(env.vm).
		set("pi", math.Pi).
		set("e", math.E).
		set("abs", math.Abs).
		set("ceil", math.Ceil).
		set("cos", math.Cos).
		set("exp", math.Exp).
		set("floor", math.Floor).
		set("hypot", math.Hypot).
		set("log", math.Log).
		set("log10", math.Log10).
		set("log2", math.Log2).
		set("pow", math.Pow).
		set("round", math.Round).
		set("sin", math.Sin).
		set("sqrt", math.Sqrt).
		set("tan", math.Tan).
		set("trunc", math.Trunc).
		value()
}

func randomModule(env *Environment) (goja.Value, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return newObjectBuilder(env.vm).
		set("random", rng.Float64).
		set("int", func(low, high int64) int64 {
			if high < low {
				panic(env.vm.NewTypeError("random.int: high must be >= low"))
			}
			return low + rng.Int63n(high-low+1)
		}).
		set("choice", func(call goja.FunctionCall) goja.Value {
			items := call.Argument(0).ToObject(env.vm)
			length := items.Get("length").ToInteger()
			if length <= 0 {
				panic(env.vm.NewTypeError("random.choice: empty sequence"))
			}
			return items.Get(strconv.FormatInt(rng.Int63n(length), 10))
		}).
		set("seed", func(n int64) { rng.Seed(n) }).
		value()
}

func datetimeModule(env *Environment) (goja.Value, error) {
	return newObjectBuilder(env.vm).
		set("now", func() string { return time.Now().UTC().Format(time.RFC3339) }).
		set("unix", func() int64 { return time.Now().Unix() }).
		set("unixMillis", func() int64 { return time.Now().UnixMilli() }).
		set("sleep", func(call goja.FunctionCall) goja.Value {
			seconds := call.Argument(0).ToFloat()
			if seconds < 0 || math.IsNaN(seconds) {
				panic(env.vm.NewTypeError("datetime.sleep: seconds must be >= 0"))
			}
			ctx := env.runContext()
			select {
			case <-time.After(time.Duration(seconds * float64(time.Second))):
			case <-ctx.Done():
				panic(env.vm.NewGoError(ctx.Err()))
			}
			return goja.Undefined()
		}).
		value()
}

func jsonModule(env *Environment) (goja.Value, error) {
	builtin := env.vm.Get("JSON")
	if builtin == nil || goja.IsUndefined(builtin) {
		return nil, errors.New("JSON builtin unavailable")
	}
	builtinObj := builtin.ToObject(env.vm)
	return newObjectBuilder(env.vm).
		set("parse", builtinObj.Get("parse")).
		set("stringify", builtinObj.Get("stringify")).
		set("pretty", func(call goja.FunctionCall) goja.Value {
			data, err := json.MarshalIndent(call.Argument(0).Export(), "", "  ")
			if err != nil {
				panic(env.vm.NewGoError(err))
			}
			return env.vm.ToValue(string(data))
		}).
		value()
}

func reModule(env *Environment) (goja.Value, error) {
	compile := func(pattern string) *regexp.Regexp {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic(env.vm.NewGoError(err))
		}
		return re
	}
	return newObjectBuilder(env.vm).
		set("test", func(pattern, s string) bool {
			return compile(pattern).MatchString(s)
		}).
		set("find", func(pattern, s string) any {
			loc := compile(pattern).FindStringIndex(s)
			if loc == nil {
				return nil
			}
			return s[loc[0]:loc[1]]
		}).
		set("findAll", func(pattern, s string) []string {
			matches := compile(pattern).FindAllString(s, -1)
			if matches == nil {
				matches = []string{}
			}
			return matches
		}).
		set("replace", func(pattern, s, replacement string) string {
			return compile(pattern).ReplaceAllString(s, replacement)
		}).
		set("split", func(pattern, s string) []string {
			return compile(pattern).Split(s, -1)
		}).
		value()
}

func statisticsModule(env *Environment) (goja.Value, error) {
	requireValues := func(op string, values []float64) {
		if len(values) == 0 {
			panic(env.vm.NewGoError(fmt.Errorf("statistics.%s: at least one value required", op)))
		}
	}
	mean := func(values []float64) float64 {
		requireValues("mean", values)
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	}
	variance := func(values []float64) float64 {
		if len(values) < 2 {
			panic(env.vm.NewGoError(errors.New("statistics.variance: at least two values required")))
		}
		m := mean(values)
		var sum float64
		for _, v := range values {
			d := v - m
			sum += d * d
		}
		return sum / float64(len(values)-1)
	}
	return newObjectBuilder(env.vm).
		set("mean", mean).
		set("median", func(values []float64) float64 {
			requireValues("median", values)
			sorted := append([]float64(nil), values...)
			sort.Float64s(sorted)
			mid := len(sorted) / 2
			if len(sorted)%2 == 0 {
				return (sorted[mid-1] + sorted[mid]) / 2
			}
			return sorted[mid]
		}).
		set("variance", variance).
		set("stdev", func(values []float64) float64 {
			return math.Sqrt(variance(values))
		}).
		set("sum", func(values []float64) float64 {
			var total float64
			for _, v := range values {
				total += v
			}
			return total
		}).
		set("min", func(values []float64) float64 {
			requireValues("min", values)
			lowest := values[0]
			for _, v := range values[1:] {
				lowest = math.Min(lowest, v)
			}
			return lowest
		}).
		set("max", func(values []float64) float64 {
			requireValues("max", values)
			highest := values[0]
			for _, v := range values[1:] {
				highest = math.Max(highest, v)
			}
			return highest
		}).
		value()
}

func stringsModule(env *Environment) (goja.Value, error) {
	return newObjectBuilder(env.vm).
		set("upper", strings.ToUpper).
		set("lower", strings.ToLower).
		set("trim", strings.TrimSpace).
		set("contains", strings.Contains).
		set("startsWith", strings.HasPrefix).
		set("endsWith", strings.HasSuffix).
		set("split", func(s, sep string) []string { return strings.Split(s, sep) }).
		set("join", func(items []string, sep string) string { return strings.Join(items, sep) }).
		set("replace", func(s, old, replacement string) string {
			return strings.ReplaceAll(s, old, replacement)
		}).
		set("repeat", func(s string, count int) string {
			if count < 0 {
				panic(env.vm.NewTypeError("strings.repeat: count must be >= 0"))
			}
			return strings.Repeat(s, count)
		}).
		value()
}

func base64Module(env *Environment) (goja.Value, error) {
	return newObjectBuilder(env.vm).
		set("encode", func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		}).
		set("decode", func(s string) string {
			data, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				panic(env.vm.NewGoError(err))
			}
			return string(data)
		}).
		value()
}

func uuidModule(env *Environment) (goja.Value, error) {
	return newObjectBuilder(env.vm).
		set("v4", func() string { return uuid.NewString() }).
		set("validate", func(s string) bool {
			_, err := uuid.Parse(s)
			return err == nil
		}).
		value()
}
