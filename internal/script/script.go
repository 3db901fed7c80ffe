// Package script hosts JavaScript trading strategies on embedded goja
// runtimes. A script is a CommonJS-style module exporting an update
// function; each instance owns an isolated runtime driven by a single
// goroutine, since goja runtimes are not goroutine-safe.
package script

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/observability"
)

// Module is one compiled strategy script.
type Module struct {
	Name    string
	Path    string
	Hash    string
	Program *goja.Program
}

// Compile reads, compiles and validates a strategy script. The module must
// export an update function; an exported name overrides the filename.
func Compile(path string) (*Module, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("script.compile", errs.CodeNotFound,
			errs.WithMessage("read script "+path),
			errs.WithCause(err))
	}
	program, err := goja.Compile(path, string(source), true)
	if err != nil {
		return nil, errs.New("script.compile", errs.CodeInvalid,
			errs.WithMessage("compile script "+path),
			errs.WithCause(err))
	}

	// A throwaway run validates the exports before any instance exists.
	exports, err := runModule(goja.New(), program)
	if err != nil {
		return nil, errs.New("script.compile", errs.CodeInvalid,
			errs.WithMessage("execute script "+path),
			errs.WithCause(err))
	}
	update := exports.Get("update")
	if update == nil || goja.IsUndefined(update) || goja.IsNull(update) {
		return nil, errs.New("script.compile", errs.CodeInvalid,
			errs.WithMessage("script "+path+" must export an update function"))
	}
	if _, ok := goja.AssertFunction(update); !ok {
		return nil, errs.New("script.compile", errs.CodeInvalid,
			errs.WithMessage("script "+path+" export update is not callable"))
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if v := exports.Get("name"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		if s := strings.TrimSpace(v.String()); s != "" {
			name = s
		}
	}

	sum := sha256.Sum256(source)
	return &Module{
		Name:    name,
		Path:    path,
		Hash:    hex.EncodeToString(sum[:]),
		Program: program,
	}, nil
}

// runModule executes a compiled program under module/exports bindings and
// returns its exports object.
func runModule(rt *goja.Runtime, program *goja.Program) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := rt.Set("module", module); err != nil {
		return nil, err
	}
	if err := rt.Set("console", buildConsole(rt)); err != nil {
		return nil, err
	}
	if _, err := rt.RunProgram(program); err != nil {
		return nil, err
	}
	object := module.Get("exports").ToObject(rt)
	if object == nil {
		return nil, errors.New("module exports must be an object")
	}
	return object, nil
}

// buildConsole routes script console output through the runtime logger.
func buildConsole(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	emit := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "warn":
				observability.Log().Warn(msg, observability.String("source", "script"))
			case "error":
				observability.Log().Error(msg, observability.String("source", "script"))
			default:
				observability.Log().Info(msg, observability.String("source", "script"))
			}
			return goja.Undefined()
		}
	}
	_ = console.Set("log", emit("info"))
	_ = console.Set("info", emit("info"))
	_ = console.Set("warn", emit("warn"))
	_ = console.Set("error", emit("error"))
	return console
}

// Instance is an isolated runtime for one script. Every call funnels
// through the instance goroutine.
type Instance struct {
	module  *Module
	rt      *goja.Runtime
	exports *goja.Object
	queue   chan func(*goja.Runtime)
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
}

// NewInstance creates an isolated runtime for the provided module.
func NewInstance(module *Module) (*Instance, error) {
	if module == nil {
		return nil, errs.New("script.instance", errs.CodeInvalid, errs.WithMessage("module required"))
	}
	rt := goja.New()
	exports, err := runModule(rt, module.Program)
	if err != nil {
		return nil, errs.New("script.instance", errs.CodeInvalid,
			errs.WithMessage("execute "+module.Path),
			errs.WithCause(err))
	}
	instance := &Instance{
		module:  module,
		rt:      rt,
		exports: exports,
		queue:   make(chan func(*goja.Runtime)),
	}
	instance.wg.Add(1)
	go instance.loop()
	return instance, nil
}

func (i *Instance) loop() {
	defer i.wg.Done()
	for cb := range i.queue {
		cb(i.rt)
	}
}

type callResult struct {
	value goja.Value
	err   error
}

// Call invokes the named export on the instance goroutine. A JavaScript
// throw comes back as an error carrying the script's message.
func (i *Instance) Call(function string, args ...any) (goja.Value, error) {
	wait := make(chan callResult, 1)

	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return nil, errs.New("script.call", errs.CodeUnavailable,
			errs.WithMessage("instance "+i.module.Name+" closed"))
	}
	i.queue <- func(rt *goja.Runtime) {
		value := i.exports.Get(function)
		if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
			wait <- callResult{err: errs.New("script.call", errs.CodeNotFound,
				errs.WithMessage(i.module.Name + " does not export " + function))}
			return
		}
		callable, ok := goja.AssertFunction(value)
		if !ok {
			wait <- callResult{err: errs.New("script.call", errs.CodeInvalid,
				errs.WithMessage(i.module.Name + " export " + function + " is not callable"))}
			return
		}
		params := make([]goja.Value, len(args))
		for idx, arg := range args {
			params[idx] = rt.ToValue(arg)
		}
		res, err := callable(goja.Undefined(), params...)
		if err != nil {
			wait <- callResult{err: errs.New("script.call", errs.CodeInternal,
				errs.WithMessage(i.module.Name + "." + function),
				errs.WithCause(err))}
			return
		}
		wait <- callResult{value: res}
	}
	i.mu.RUnlock()

	outcome := <-wait
	return outcome.value, outcome.err
}

// Exports reports whether the script exports a callable with the name.
func (i *Instance) Exports(function string) bool {
	wait := make(chan bool, 1)

	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return false
	}
	i.queue <- func(*goja.Runtime) {
		value := i.exports.Get(function)
		if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
			wait <- false
			return
		}
		_, ok := goja.AssertFunction(value)
		wait <- ok
	}
	i.mu.RUnlock()

	return <-wait
}

// Close stops the instance goroutine. It is safe to call more than once.
func (i *Instance) Close() {
	i.once.Do(func() {
		i.mu.Lock()
		i.closed = true
		close(i.queue)
		i.mu.Unlock()
		i.wg.Wait()
	})
}
