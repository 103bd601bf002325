package sandbox

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestModuleRegistry(t *testing.T) {
	t.Run("NamesAreSorted", func(t *testing.T) {
		registry := DefaultRegistry()
		assert.Equal(t, DefaultAllowedModules(), registry.Names())
	})

	t.Run("RegisterReplaces", func(t *testing.T) {
		registry := NewModuleRegistry()
		registry.Register("custom", mathModule)
		registry.Register("custom", stringsModule)

		builder, ok := registry.Lookup("custom")
		require.True(t, ok)

		env := buildTestEnvironment(t, DefaultPolicy())
		value, err := builder(env)
		require.NoError(t, err)
		obj := value.ToObject(env.vm)
		assert.NotNil(t, obj.Get("upper"))
	})

	t.Run("LookupMissing", func(t *testing.T) {
		_, ok := NewModuleRegistry().Lookup("nope")
		assert.False(t, ok)
	})
}

// The analyzer flags attribute names from the restricted table wherever they
// appear, so no built-in module may expose one.
func TestModuleSurfaceAvoidsRestrictedNames(t *testing.T) {
	registry := DefaultRegistry()
	env := buildTestEnvironment(t, DefaultPolicy())

	for _, name := range registry.Names() {
		moduleVal, bound := env.modules[name]
		require.Truef(t, bound, "module %q should be bound", name)
		obj := moduleVal.ToObject(env.vm)
		for _, key := range obj.Keys() {
			_, restricted := restrictedAttributes[key]
			assert.Falsef(t, restricted, "module %q exposes restricted name %q", name, key)
		}
	}
}

func TestMathModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	tests := []struct {
		name     string
		source   string
		expected float64
	}{
		{"Sqrt", `math.sqrt(16)`, 4},
		{"Pow", `math.pow(2, 10)`, 1024},
		{"FloorCeil", `math.floor(2.7) + math.ceil(2.1)`, 5},
		{"Abs", `math.abs(-3.5)`, 3.5},
		{"Hypot", `math.hypot(3, 4)`, 5},
		{"Round", `math.round(2.5)`, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := runSnippet(t, env, tt.source)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, value.ToFloat(), 1e-9)
		})
	}

	t.Run("Constants", func(t *testing.T) {
		value, err := runSnippet(t, env, `math.pi`)
		require.NoError(t, err)
		assert.InDelta(t, 3.14159265, value.ToFloat(), 1e-8)
	})
}

func TestStatisticsModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	tests := []struct {
		name     string
		source   string
		expected float64
	}{
		{"Mean", `statistics.mean([2, 4, 6])`, 4},
		{"MedianOdd", `statistics.median([5, 1, 3])`, 3},
		{"MedianEven", `statistics.median([1, 2, 3, 4])`, 2.5},
		{"Variance", `statistics.variance([1, 3])`, 2},
		{"Stdev", `statistics.stdev([4, 4, 4, 4])`, 0},
		{"Sum", `statistics.sum([1.5, 2.5])`, 4},
		{"Min", `statistics.min([3, -1, 2])`, -1},
		{"Max", `statistics.max([3, -1, 2])`, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := runSnippet(t, env, tt.source)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, value.ToFloat(), 1e-9)
		})
	}

	t.Run("MeanOfNothing", func(t *testing.T) {
		_, err := runSnippet(t, env, `statistics.mean([])`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one value required")
	})

	t.Run("VarianceOfOne", func(t *testing.T) {
		_, err := runSnippet(t, env, `statistics.variance([1])`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least two values required")
	})
}

func TestStringsModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"Upper", `strings.upper("abc")`, "ABC"},
		{"Lower", `strings.lower("ABC")`, "abc"},
		{"Trim", `strings.trim("  hi  ")`, "hi"},
		{"SplitJoin", `strings.join(strings.split("a,b,c", ","), "-")`, "a-b-c"},
		{"Replace", `strings.replace("aaa", "a", "b")`, "bbb"},
		{"Repeat", `strings.repeat("ab", 3)`, "ababab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := runSnippet(t, env, tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, value.String())
		})
	}

	t.Run("Predicates", func(t *testing.T) {
		value, err := runSnippet(t, env, `strings.contains("hello", "ell") &&
strings.startsWith("hello", "he") &&
strings.endsWith("hello", "lo")`)
		require.NoError(t, err)
		assert.True(t, value.ToBoolean())
	})

	t.Run("NegativeRepeat", func(t *testing.T) {
		_, err := runSnippet(t, env, `strings.repeat("a", -1)`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "count must be >= 0")
	})
}

func TestBase64Module(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	t.Run("RoundTrip", func(t *testing.T) {
		value, err := runSnippet(t, env, `base64.decode(base64.encode("scriptbox"))`)
		require.NoError(t, err)
		assert.Equal(t, "scriptbox", value.String())
	})

	t.Run("Encode", func(t *testing.T) {
		value, err := runSnippet(t, env, `base64.encode("hi")`)
		require.NoError(t, err)
		assert.Equal(t, "aGk=", value.String())
	})

	t.Run("InvalidInput", func(t *testing.T) {
		_, err := runSnippet(t, env, `base64.decode("!!!")`)
		require.Error(t, err)
	})
}

func TestReModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	t.Run("Test", func(t *testing.T) {
		value, err := runSnippet(t, env, `re.test("^a+$", "aaa")`)
		require.NoError(t, err)
		assert.True(t, value.ToBoolean())
	})

	t.Run("Find", func(t *testing.T) {
		value, err := runSnippet(t, env, `re.find("[0-9]+", "abc123def")`)
		require.NoError(t, err)
		assert.Equal(t, "123", value.String())
	})

	t.Run("FindNoMatch", func(t *testing.T) {
		value, err := runSnippet(t, env, `re.find("z", "abc") === null`)
		require.NoError(t, err)
		assert.True(t, value.ToBoolean())
	})

	t.Run("FindAll", func(t *testing.T) {
		value, err := runSnippet(t, env, `re.findAll("[0-9]+", "a1b22c333").join(",")`)
		require.NoError(t, err)
		assert.Equal(t, "1,22,333", value.String())
	})

	t.Run("Replace", func(t *testing.T) {
		value, err := runSnippet(t, env, `re.replace("[0-9]+", "a1b22", "#")`)
		require.NoError(t, err)
		assert.Equal(t, "a#b#", value.String())
	})

	t.Run("Split", func(t *testing.T) {
		value, err := runSnippet(t, env, `re.split("\\s+", "a  b\tc").length`)
		require.NoError(t, err)
		assert.Equal(t, int64(3), value.ToInteger())
	})

	t.Run("BadPattern", func(t *testing.T) {
		_, err := runSnippet(t, env, `re.test("(", "x")`)
		require.Error(t, err)
	})
}

func TestJSONModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	t.Run("ParseStringifyRoundTrip", func(t *testing.T) {
		value, err := runSnippet(t, env, `json.stringify(json.parse('{"a":1}'))`)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, value.String())
	})

	t.Run("Pretty", func(t *testing.T) {
		value, err := runSnippet(t, env, `json.pretty({a: 1})`)
		require.NoError(t, err)
		assert.Equal(t, "{\n  \"a\": 1\n}", value.String())
	})

	t.Run("ParseError", func(t *testing.T) {
		_, err := runSnippet(t, env, `json.parse("{nope")`)
		require.Error(t, err)
	})
}

func TestUUIDModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	t.Run("GeneratedValueValidates", func(t *testing.T) {
		value, err := runSnippet(t, env, `uuid.validate(uuid.v4())`)
		require.NoError(t, err)
		assert.True(t, value.ToBoolean())
	})

	t.Run("RejectsGarbage", func(t *testing.T) {
		value, err := runSnippet(t, env, `uuid.validate("not-a-uuid")`)
		require.NoError(t, err)
		assert.False(t, value.ToBoolean())
	})
}

func TestRandomModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	t.Run("IntStaysInRange", func(t *testing.T) {
		value, err := runSnippet(t, env, `(function () {
	for (let i = 0; i < 200; i++) {
		const n = random.int(1, 6);
		if (n < 1 || n > 6) { return false; }
	}
	return true;
})()`)
		require.NoError(t, err)
		assert.True(t, value.ToBoolean())
	})

	t.Run("IntSingletonRange", func(t *testing.T) {
		value, err := runSnippet(t, env, `random.int(5, 5)`)
		require.NoError(t, err)
		assert.Equal(t, int64(5), value.ToInteger())
	})

	t.Run("IntInvertedRange", func(t *testing.T) {
		_, err := runSnippet(t, env, `random.int(3, 1)`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "high must be >= low")
	})

	t.Run("Choice", func(t *testing.T) {
		value, err := runSnippet(t, env, `random.choice([7, 7, 7])`)
		require.NoError(t, err)
		assert.Equal(t, int64(7), value.ToInteger())
	})

	t.Run("ChoiceOfNothing", func(t *testing.T) {
		_, err := runSnippet(t, env, `random.choice([])`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty sequence")
	})

	t.Run("SeedMakesSequenceRepeatable", func(t *testing.T) {
		value, err := runSnippet(t, env, `random.seed(42);
const first = random.random();
random.seed(42);
first === random.random()`)
		require.NoError(t, err)
		assert.True(t, value.ToBoolean())
	})
}

func TestDatetimeModule(t *testing.T) {
	env := buildTestEnvironment(t, DefaultPolicy())

	t.Run("NowIsRFC3339", func(t *testing.T) {
		value, err := runSnippet(t, env, `datetime.now()`)
		require.NoError(t, err)
		_, parseErr := time.Parse(time.RFC3339, value.String())
		assert.NoError(t, parseErr)
	})

	t.Run("UnixIsPositive", func(t *testing.T) {
		value, err := runSnippet(t, env, `datetime.unix()`)
		require.NoError(t, err)
		assert.Greater(t, value.ToInteger(), int64(0))
	})

	t.Run("ShortSleepCompletes", func(t *testing.T) {
		start := time.Now()
		_, err := runSnippet(t, env, `datetime.sleep(0.01)`)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("NegativeSleep", func(t *testing.T) {
		_, err := runSnippet(t, env, `datetime.sleep(-1)`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "seconds must be >= 0")
	})
}

// Module values built for one environment must never leak into another, so
// every builder is invoked per environment.
func TestModuleValuesArePerEnvironment(t *testing.T) {
	builder := NewEnvironmentBuilder(zaptest.NewLogger(t), DefaultRegistry())

	first, err := builder.Build(DefaultPolicy())
	require.NoError(t, err)
	second, err := builder.Build(DefaultPolicy())
	require.NoError(t, err)

	assert.NotSame(t, first.modules["math"].(*goja.Object), second.modules["math"].(*goja.Object))
}
