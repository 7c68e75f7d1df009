package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/errors"
)

// Engine creates isolated wazero runtimes that share one compilation cache.
type Engine struct {
	cache wazero.CompilationCache
	cfg   Config
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per guest in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// Option configures the Engine at creation time.
type Option func(*Config)

// WithMemoryLimit sets the maximum memory available to guest modules.
// Each page is 64KB.
func WithMemoryLimit(pages uint32) Option {
	return func(c *Config) {
		c.MemoryLimitPages = pages
	}
}

// New creates an engine with a fresh compilation cache.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		cache: wazero.NewCompilationCache(),
		cfg:   cfg,
	}, nil
}

// Close releases the shared compilation cache.
// All instances must be closed before calling this.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

func (e *Engine) newRuntime(ctx context.Context) wazero.Runtime {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true)

	if e.cfg.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}

	return wazero.NewRuntimeWithConfig(ctx, cfg)
}

// ModuleInfo describes a compiled module without instantiating it.
type ModuleInfo struct {
	Exports []string

	exportSet map[string]struct{}
}

// HasExport reports whether the module exports a function with the given name.
func (m *ModuleInfo) HasExport(name string) bool {
	_, ok := m.exportSet[name]
	return ok
}

// Compile compiles wasm in a throwaway runtime and reports its exported
// functions. Used for classification; the compiled artifact stays in the
// shared cache for later instantiation.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*ModuleInfo, error) {
	rt := e.newRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}
	defer compiled.Close(ctx)

	defs := compiled.ExportedFunctions()
	info := &ModuleInfo{
		Exports:   make([]string, 0, len(defs)),
		exportSet: make(map[string]struct{}, len(defs)),
	}
	for name := range defs {
		info.Exports = append(info.Exports, name)
		info.exportSet[name] = struct{}{}
	}

	Logger().Debug("compiled module",
		zap.Int("size", len(wasm)),
		zap.Int("exports", len(info.Exports)))

	return info, nil
}
