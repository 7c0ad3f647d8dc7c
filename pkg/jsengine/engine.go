// Package jsengine runs JavaScript customFunc hooks against a page.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/session"
)

// Engine wraps a goja runtime. One engine serves one flow run; calls are
// serialized.
type Engine struct {
	runtime *goja.Runtime
	mu      sync.Mutex
}

// New creates a new JS engine instance
func New() *Engine {
	e := &Engine{
		runtime: goja.New(),
	}
	e.runtime.SetFieldNameMapper(goja.UncapFieldNameMapper())
	e.setupConsole()
	return e
}

// setupConsole routes console.log/warn/error to the process log.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(level func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			level("[js] %s", fmt.Sprint(args...))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	_ = console.Set("log", makeConsoleFunc(logger.Info))
	_ = console.Set("warn", makeConsoleFunc(logger.Warn))
	_ = console.Set("error", makeConsoleFunc(logger.Error))
	_ = e.runtime.Set("console", console)
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.runtime.Set(name, value)
}

// Eval evaluates a JavaScript expression and returns the result
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result.Export(), nil
}

// RunHook runs script with three globals bound:
//
//	page     the target the step resolved to (title, text, click, ...)
//	step     the step's fields
//	context  the run's step context; writes are visible to later steps
//
// A cancelled ctx interrupts the script. Errors thrown by the script are
// returned with their JS message; errors raised by page calls are returned
// unchanged.
func (e *Engine) RunHook(ctx context.Context, script string, target session.Target, step interface{}, stepCtx map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	_ = e.runtime.Set("page", e.pageObject(ctx, target))
	_ = e.runtime.Set("step", step)
	_ = e.runtime.Set("context", stepCtx)

	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
	}()

	_, err := e.runtime.RunString(script)
	return e.hookError(ctx, err)
}

func (e *Engine) hookError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		if inner := exc.Unwrap(); inner != nil {
			return inner
		}
		if obj, ok := exc.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return errors.New(msg.String())
			}
		}
		return errors.New(exc.Value().String())
	}

	return fmt.Errorf("JS runtime error: %w", err)
}

// Compile checks script for syntax errors without running it.
func Compile(name, script string) error {
	_, err := goja.Compile(name, script, false)
	return err
}
