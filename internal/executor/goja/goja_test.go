package goja

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/actionrunner/internal/capability"
	"github.com/sakif/actionrunner/internal/executor"
	"github.com/sakif/actionrunner/internal/value"
)

func newTestExecutor(t *testing.T, reg *capability.Registry, timeout time.Duration) *Executor {
	t.Helper()
	return New(reg, timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func run(t *testing.T, e *Executor, code string) *executor.ExecutionResult {
	t.Helper()
	res, err := e.Execute(context.Background(), executor.ExecutionRequest{Code: code})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestExecute_ScalarResult(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	res := run(t, e, "__retval__ = 5")

	assert.True(t, res.Succeeded())
	assert.Equal(t, "5", res.Body())
	assert.Equal(t, executor.ContentTypePlain, res.ContentType)
}

func TestExecute_LexicalResultBinding(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	tests := []struct {
		name string
		code string
		want string
	}{
		{"var", "var __retval__ = 5", "5"},
		{"let", "let __retval__ = 5", "5"},
		{"const", "const __retval__ = [1, 2]", "[1, 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, e, tt.code)
			require.True(t, res.Succeeded(), res.Trace)
			assert.Equal(t, tt.want, res.Body())
		})
	}
}

func TestExecute_ContainerShapes(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	tests := []struct {
		name string
		code string
		want value.Value
	}{
		{"array", `__retval__ = ["a", 1]`, value.Sequence{value.String("a"), value.Other{V: int64(1)}}},
		{"frozen array", `__retval__ = Object.freeze(["a"])`, value.Tuple{value.String("a")}},
		{"set", `__retval__ = new Set(["x", "x", "y"])`, value.Set{value.String("x"), value.String("y")}},
		{"map", `__retval__ = new Map([["k", [1.5]]])`, value.Mapping{{Key: value.String("k"), Value: value.Sequence{value.Other{V: 1.5}}}}},
		{"object", `__retval__ = {a: "b"}`, value.Mapping{{Key: value.String("a"), Value: value.String("b")}}},
		{"null", `__retval__ = null`, value.None},
		{"boolean", `__retval__ = true`, value.Other{V: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, e, tt.code)
			require.True(t, res.Succeeded(), res.Trace)
			assert.Equal(t, tt.want, res.Value)
		})
	}
}

func TestExecute_SelfReferenceDoesNotRecurse(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	res := run(t, e, "var a = [1]; a.push(a); __retval__ = a")

	require.True(t, res.Succeeded(), res.Trace)
	assert.Equal(t, "[1, [...]]", res.Body())
}

func TestExecute_ThrownErrorIsFailure(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	res := run(t, e, `throw new TypeError("x")`)

	assert.False(t, res.Succeeded())
	assert.Equal(t, executor.ContentTypeError, res.ContentType)
	assert.Contains(t, res.Trace, "TypeError")
	assert.Contains(t, res.Trace, "x")
}

func TestExecute_SyntaxErrorIsFailure(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	res := run(t, e, "__retval__ = (")

	assert.False(t, res.Succeeded())
	assert.NotEmpty(t, res.Trace)
}

func TestExecute_MissingResult(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	res := run(t, e, "var x = 1")

	assert.False(t, res.Succeeded())
	assert.Equal(t, "ReferenceError: __retval__ is not defined", res.Trace)
}

func TestExecute_OversizedResultIsRejected(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	tests := []struct {
		name string
		code string
	}{
		{"sparse array", "__retval__ = []; __retval__.length = 4294967295"},
		{"shared subtrees", "var a = [1]; for (var i = 0; i < 40; i++) { a = [a, a] }; __retval__ = a"},
		{"shared long string", `var s = "x".repeat(1 << 20); var a = []; for (var i = 0; i < 64; i++) { a.push(s) }; __retval__ = a`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			res := run(t, e, tt.code)

			assert.False(t, res.Succeeded())
			assert.Contains(t, res.Trace, "RangeError")
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := newTestExecutor(t, nil, 50*time.Millisecond)

	res := run(t, e, "while (true) {}")

	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Trace, "TimeoutError")
}

func TestExecute_ContextDeadline(t *testing.T) {
	e := newTestExecutor(t, nil, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := e.Execute(ctx, executor.ExecutionRequest{Code: "while (true) {}"})

	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Trace, "TimeoutError")
}

func TestExecute_CapabilitiesAndSources(t *testing.T) {
	scratch := t.TempDir()
	helpers := filepath.Join(t.TempDir(), "helpers.js")
	require.NoError(t, os.WriteFile(helpers, []byte(`function shout(s) { return upper(s) + "!" }`), 0o644))

	reg := capability.Load([]string{"text", "files"}, []string{helpers}, scratch, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := newTestExecutor(t, reg, time.Second)

	res := run(t, e, `
		var p = writeFile(scratchPath("out.txt"), shout("hi"));
		console.log("wrote", p);
		__retval__ = p;
	`)

	require.True(t, res.Succeeded(), res.Trace)
	path := filepath.Join(scratch, "out.txt")
	assert.Equal(t, value.String(path), res.Value)
	assert.Contains(t, res.Stdout, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HI!", string(data))
}

func TestExecute_CapabilityErrorIsCatchable(t *testing.T) {
	reg := capability.Load([]string{"files"}, nil, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := newTestExecutor(t, reg, time.Second)

	res := run(t, e, `
		try { writeFile("/etc/escape.txt", "x"); __retval__ = "written" }
		catch (err) { __retval__ = "refused" }
	`)

	require.True(t, res.Succeeded(), res.Trace)
	assert.Equal(t, value.String("refused"), res.Value)
}

func TestExecute_FreshRuntimePerRequest(t *testing.T) {
	e := newTestExecutor(t, nil, time.Second)

	run(t, e, "var leaked = 1; __retval__ = leaked")
	res := run(t, e, "__retval__ = typeof leaked")

	assert.Equal(t, value.String("undefined"), res.Value)
}
