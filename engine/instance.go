package engine

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/edgerun/wasmdbg/errors"
)

// HostBuilder binds host functions onto the builder. Functions may close
// over per-session state; each Instance gets its own host module.
type HostBuilder func(wazero.HostModuleBuilder)

// InstanceConfig holds configuration for guest instantiation
type InstanceConfig struct {
	// HostModuleName is the import namespace the guest expects,
	// e.g. "env" for proxy-wasm or "http_handler" for http-wasm.
	HostModuleName string
	// BuildHost populates the host module. Nil means no host module.
	BuildHost HostBuilder
	// Stdout and Stderr receive the guest's WASI output. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// Instance is one instantiated guest in its own runtime.
type Instance struct {
	runtime wazero.Runtime
	module  api.Module
	closed  bool
}

// Instantiate compiles and instantiates wasm in a fresh runtime with WASI
// and the configured host module available. The guest's start function
// (_initialize or _start) runs before Instantiate returns; a failure there
// is a load error.
func (e *Engine) Instantiate(ctx context.Context, wasm []byte, cfg InstanceConfig) (*Instance, error) {
	rt := e.newRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Load("instantiate WASI", err)
	}

	if cfg.BuildHost != nil {
		name := cfg.HostModuleName
		if name == "" {
			name = "env"
		}
		builder := rt.NewHostModuleBuilder(name)
		cfg.BuildHost(builder)
		if _, err := builder.Instantiate(ctx); err != nil {
			rt.Close(ctx)
			return nil, errors.Load("instantiate host module", err)
		}
	}

	modCfg := wazero.NewModuleConfig().
		WithName("guest").
		WithStartFunctions() // start manually so failures surface as load errors
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}

	mod, err := rt.InstantiateWithConfig(ctx, wasm, modCfg)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Load("instantiate module", err)
	}

	inst := &Instance{runtime: rt, module: mod}

	if err := inst.start(ctx); err != nil {
		inst.Close(ctx)
		return nil, err
	}

	return inst, nil
}

// start runs the guest's initialization export, if any. Reactor-style
// guests export _initialize; WASI command guests export _start.
func (i *Instance) start(ctx context.Context) error {
	name := ""
	switch {
	case i.module.ExportedFunction("_initialize") != nil:
		name = "_initialize"
	case i.module.ExportedFunction("_start") != nil:
		name = "_start"
	default:
		return nil
	}

	if _, err := i.module.ExportedFunction(name).Call(ctx); err != nil {
		// A clean exit(0) from _start is a successful start.
		var exit *sys.ExitError
		if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
			return nil
		}
		return errors.Load("run "+name, err)
	}
	return nil
}

// HasExport reports whether the guest exports a function with the given name.
func (i *Instance) HasExport(name string) bool {
	return i.module.ExportedFunction(name) != nil
}

// ParamCount returns the number of parameters of an exported function,
// or -1 if the export does not exist. ABI revisions differ in arity.
func (i *Instance) ParamCount(name string) int {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return -1
	}
	return len(fn.Definition().ParamTypes())
}

// Call invokes an exported guest function.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	if i.closed {
		return nil, errors.Closed(errors.PhaseExecute, "instance")
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExport(errors.PhaseExecute, name)
	}
	return fn.Call(ctx, args...)
}

// Close tears down the instance's runtime. Safe to call twice.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.runtime.Close(ctx)
}
