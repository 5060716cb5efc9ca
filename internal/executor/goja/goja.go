// Package goja runs javascript snippets in process. Every request gets a fresh
// runtime; nothing leaks between executions except the capability registry,
// which is read-only.
package goja

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/sakif/actionrunner/internal/capability"
	"github.com/sakif/actionrunner/internal/executor"
)

// ResultVar is the global a snippet assigns its result to.
const ResultVar = "__retval__"

// MaxCodeSize bounds the snippet text accepted by the engine.
const MaxCodeSize = 256 * 1024

type Executor struct {
	registry *capability.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates an engine. A zero timeout leaves snippets unbounded unless the
// caller's context carries a deadline.
func New(registry *capability.Registry, timeout time.Duration, logger *slog.Logger) *Executor {
	if registry == nil {
		registry = capability.Empty()
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (res *executor.ExecutionResult, err error) {
	if len(req.Code) > MaxCodeSize {
		return executor.Failure(fmt.Sprintf("RangeError: snippet exceeds %d bytes", MaxCodeSize)), nil
	}

	start := time.Now()
	vm := goja.New()

	var stdout strings.Builder
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("javascript runtime panicked", slog.Any("panic", r))
			res = executor.Failure(fmt.Sprintf("InternalError: %v", r))
		}
		if res != nil {
			res.Stdout = stdout.String()
			res.Duration = time.Since(start)
		}
	}()

	wd := e.watch(ctx, vm)
	defer wd.stop()

	if err := e.install(vm, &stdout); err != nil {
		return nil, fmt.Errorf("preparing runtime: %w", err)
	}

	for _, src := range e.registry.SourcesFor(capability.LangJavaScript) {
		if _, err := vm.RunScript(src.Name, src.Code); err != nil {
			e.logger.Error("capability source failed",
				slog.String("source", src.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := vm.RunScript("snippet.js", req.Code); err != nil {
		return executor.Failure(traceOf(err)), nil
	}

	retval, err := lookupResult(vm)
	if err != nil {
		return executor.Failure(traceOf(err)), nil
	}
	if retval == nil {
		return executor.Failure(fmt.Sprintf("ReferenceError: %s is not defined", ResultVar)), nil
	}

	v, err := newConverter(vm, wd.expired).convert(retval)
	if err != nil {
		return executor.Failure(traceOf(err)), nil
	}
	return executor.Success(v), nil
}

// lookupResult resolves ResultVar through the global scope, so top-level let
// and const bindings are found as well as global object properties. A nil value
// means the snippet never bound it.
func lookupResult(vm *goja.Runtime) (goja.Value, error) {
	v, err := vm.RunString(ResultVar)
	if err == nil {
		return v, nil
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok && obj.Get("name") != nil && obj.Get("name").String() == "ReferenceError" {
			return nil, nil
		}
	}
	return nil, err
}

// watchdog interrupts the runtime once the configured timeout or the context
// expires. The reason is kept for Go code that runs after the script returns.
type watchdog struct {
	done   chan struct{}
	timer  *time.Timer
	reason atomic.Pointer[string]
}

func (e *Executor) watch(ctx context.Context, vm *goja.Runtime) *watchdog {
	wd := &watchdog{done: make(chan struct{})}
	var expired <-chan time.Time
	if e.timeout > 0 {
		wd.timer = time.NewTimer(e.timeout)
		expired = wd.timer.C
	}

	fire := func(reason string) {
		wd.reason.Store(&reason)
		vm.Interrupt(reason)
	}

	go func() {
		select {
		case <-expired:
			fire(fmt.Sprintf("TimeoutError: execution exceeded %s", e.timeout))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				fire("TimeoutError: " + ctx.Err().Error())
			} else {
				fire("InterruptedError: " + ctx.Err().Error())
			}
		case <-wd.done:
		}
	}()

	return wd
}

// expired returns the interrupt reason, or "" while the run may continue.
func (wd *watchdog) expired() string {
	if r := wd.reason.Load(); r != nil {
		return *r
	}
	return ""
}

func (wd *watchdog) stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	close(wd.done)
}

// install exposes the native capability functions and a console.log that
// collects into stdout.
func (e *Executor) install(vm *goja.Runtime, stdout *strings.Builder) error {
	for _, name := range e.registry.Names() {
		fn := e.registry.Funcs[name]
		err := vm.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			out, err := fn(args...)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(out)
		})
		if err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
	}

	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		stdout.WriteString(strings.Join(parts, " "))
		stdout.WriteByte('\n')
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return vm.Set("console", console)
}

func traceOf(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprint(interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return strings.TrimRight(exc.String(), "\n")
	}
	return err.Error()
}
