package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wasmdiff/harness/errors"
)

// Engine wraps a wazero runtime configured for differential execution:
// fuzzed modules get a bounded memory ceiling and no host imports.
type Engine struct {
	runtime wazero.Runtime
}

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps instance memory in 64KB pages. 0 means the
	// harness default of 1024 pages (64MB), matching the reference
	// interpreter's ceiling.
	MemoryLimitPages uint32
}

// DefaultMemoryLimitPages is the per-instance memory cap applied when
// Config does not override it.
const DefaultMemoryLimitPages = 1024

// New creates an engine with default configuration.
func New(ctx context.Context) *Engine {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) *Engine {
	limit := uint32(DefaultMemoryLimitPages)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		limit = cfg.MemoryLimitPages
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(limit).
		WithCloseOnContextDone(true)

	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
}

// Compile compiles raw module bytes. Validation happens here: malformed
// or invalid modules fail at compile time, never at call time.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidData).
			Cause(err).
			Build()
	}
	return &Module{engine: e, compiled: compiled}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Module is a compiled module awaiting instantiation.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Instantiate creates a fresh anonymous instance. Instantiation runs
// active segment initialization and the start function, so it can fail
// or trap on hostile input.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	modConfig := wazero.NewModuleConfig().WithName("")
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		Logger().Debug("instantiation failed", zap.Error(err))
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
			Cause(err).
			Build()
	}
	return &Instance{module: m, instance: mod}, nil
}

func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instance is a running instance. It is not safe for concurrent use;
// differential workers each instantiate their own.
type Instance struct {
	module   *Module
	instance api.Module
}

// ExportedFunction resolves a function export by name. A nil return
// means the export is absent or is not a callable function; callers
// treat that as a skip, not an error.
func (i *Instance) ExportedFunction(name string) api.Function {
	return i.instance.ExportedFunction(name)
}

// Call invokes an exported function with raw stack-encoded arguments.
// A returned error is a trap or runtime fault inside the module.
func (i *Instance) Call(ctx context.Context, fn api.Function, args ...uint64) ([]uint64, error) {
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, errors.New(errors.PhaseInvoke, errors.KindTrap).
			Cause(err).
			Build()
	}
	return results, nil
}

// MemorySize returns the current linear memory size in bytes, 0 when
// the module declares no memory.
func (i *Instance) MemorySize() uint32 {
	mem := i.instance.Memory()
	if mem == nil {
		return 0
	}
	return mem.Size()
}

func (i *Instance) Close(ctx context.Context) error {
	return i.instance.Close(ctx)
}
