package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/errors"
)

// Factory constructs runners for detected execution models. It owns the
// single shared PortManager so every request-handler runner created over
// the process lifetime draws from one port ledger. Stateless beyond that;
// runners are never cached.
type Factory struct {
	eng     *engine.Engine
	ports   *PortManager
	counter atomic.Uint64
}

// NewFactory creates a factory over eng with a fresh port ledger.
func NewFactory(eng *engine.Engine) *Factory {
	return &Factory{
		eng:   eng,
		ports: NewPortManager(),
	}
}

// Ports exposes the shared port ledger, mainly for tests and diagnostics.
func (f *Factory) Ports() *PortManager { return f.ports }

func (f *Factory) nextSessionID(model detect.ExecutionModel) string {
	return fmt.Sprintf("%s-%d", model, f.counter.Add(1))
}

// Create instantiates wasm under the given execution model and returns the
// matching runner. The model set is closed; selection is a plain switch.
// A binary that cannot be prepared for the chosen model fails with a load
// error before any hook runs.
func (f *Factory) Create(ctx context.Context, model detect.ExecutionModel, wasm []byte, opts ...Option) (Runner, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch model {
	case detect.StreamFilter:
		return f.createProxyWasm(ctx, wasm, cfg)
	case detect.RequestHandler:
		return f.createHTTPWasm(ctx, wasm, cfg)
	default:
		return nil, errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("unknown execution model %d", model))
	}
}

func (f *Factory) createProxyWasm(ctx context.Context, wasm []byte, cfg Config) (*ProxyWasmRunner, error) {
	sessionID := f.nextSessionID(detect.StreamFilter)
	host := newHostState(cfg.logger())

	inst, err := f.eng.Instantiate(ctx, wasm, engine.InstanceConfig{
		HostModuleName: "env",
		BuildHost: func(b wazero.HostModuleBuilder) {
			buildProxyHost(b, host)
		},
		Stdout: guestPrintWriter{host},
		Stderr: guestPrintWriter{host},
	})
	if err != nil {
		return nil, err
	}

	guest := &wasmProxyGuest{
		inst:     inst,
		host:     host,
		rootID:   rootContextID,
		streamID: rootContextID,
	}

	if !guest.hasStage(StageRequestHeaders) && !guest.hasStage(StageRequestBody) &&
		!guest.hasStage(StageResponseHeaders) && !guest.hasStage(StageResponseBody) {
		inst.Close(ctx)
		return nil, errors.MissingExport(errors.PhaseLoad, "proxy_on_request_headers")
	}

	// Root lifecycle, best effort: guests commonly expect vm_start and
	// configure before any stream context.
	if inst.HasExport("proxy_on_context_create") {
		if _, err := inst.Call(ctx, "proxy_on_context_create", rootContextID, 0); err != nil {
			inst.Close(ctx)
			return nil, errors.Load("create root context", err)
		}
	}
	for _, name := range []string{"proxy_on_vm_start", "proxy_on_configure"} {
		if inst.HasExport(name) {
			if _, err := inst.Call(ctx, name, rootContextID, 0); err != nil {
				inst.Close(ctx)
				return nil, errors.Load("run "+name, err)
			}
		}
	}

	return &ProxyWasmRunner{
		cfg:        cfg,
		guest:      guest,
		host:       host,
		dispatcher: newCallDispatcher(&cfg),
		state:      stateReady,
		sessionID:  sessionID,
	}, nil
}

func (f *Factory) createHTTPWasm(ctx context.Context, wasm []byte, cfg Config) (*HttpWasmRunner, error) {
	sessionID := f.nextSessionID(detect.RequestHandler)
	host := newHostState(cfg.logger())

	inst, err := f.eng.Instantiate(ctx, wasm, engine.InstanceConfig{
		HostModuleName: "http_handler",
		BuildHost: func(b wazero.HostModuleBuilder) {
			buildHTTPHost(b, host)
		},
		Stdout: guestPrintWriter{host},
		Stderr: guestPrintWriter{host},
	})
	if err != nil {
		return nil, err
	}

	if !inst.HasExport("handle_request") {
		inst.Close(ctx)
		return nil, errors.MissingExport(errors.PhaseLoad, "handle_request")
	}

	return &HttpWasmRunner{
		cfg:       cfg,
		inst:      inst,
		host:      host,
		ports:     f.ports,
		state:     stateReady,
		sessionID: sessionID,
	}, nil
}

// guestPrintWriter folds the guest's WASI stdout/stderr into the hook logs
// so printf-style debugging shows up next to ABI logs.
type guestPrintWriter struct{ host *hostState }

func (w guestPrintWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.host.log(fmt.Sprintf("[stdio] %s", trimTrailingNewline(p)))
	}
	return len(p), nil
}

func trimTrailingNewline(p []byte) string {
	s := string(p)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
