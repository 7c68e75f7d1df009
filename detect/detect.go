// Package detect classifies a wasm binary into one of the two execution
// models the debugger can drive.
//
// Classification is best effort and never fails: a binary the compiler
// rejects is assumed to be a request handler (component-style encodings are
// not valid core modules), and a compilable binary is classified by its
// export names.
package detect

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/engine"
)

// ExecutionModel is the closed set of models a module can run under.
type ExecutionModel int

const (
	// StreamFilter modules handle traffic through four ordered hook stages.
	StreamFilter ExecutionModel = iota
	// RequestHandler modules handle exactly one synthesized request.
	RequestHandler
)

// Wire names, also used by the CLI.
const (
	modelProxyWasm = "proxy-wasm"
	modelHTTPWasm  = "http-wasm"
)

func (m ExecutionModel) String() string {
	if m == RequestHandler {
		return modelHTTPWasm
	}
	return modelProxyWasm
}

// ParseModel maps a wire name back to its model.
func ParseModel(s string) (ExecutionModel, bool) {
	switch s {
	case modelProxyWasm:
		return StreamFilter, true
	case modelHTTPWasm:
		return RequestHandler, true
	}
	return StreamFilter, false
}

// Exports that identify a request-handler (http-wasm) guest.
var handlerExports = []string{"handle_request", "handle_response"}

// Export prefix of the stream-filter (proxy-wasm) ABI.
const streamFilterPrefix = "proxy_on_"

// Detect classifies wasm. It reads the binary once and performs no other
// I/O; it always resolves to a model:
//
//   - compile failure        -> RequestHandler
//   - handler export present -> RequestHandler
//   - proxy_on_* export      -> StreamFilter
//   - otherwise              -> StreamFilter (default; the proxy runner
//     rejects such a guest at load with a descriptive error, so the
//     default never silently misexecutes)
func Detect(ctx context.Context, eng *engine.Engine, wasm []byte) ExecutionModel {
	info, err := eng.Compile(ctx, wasm)
	if err != nil {
		engine.Logger().Debug("classifying uncompilable binary as request handler",
			zap.Error(err))
		return RequestHandler
	}

	for _, name := range handlerExports {
		if info.HasExport(name) {
			return RequestHandler
		}
	}

	for _, name := range info.Exports {
		if strings.HasPrefix(name, streamFilterPrefix) {
			return StreamFilter
		}
	}

	engine.Logger().Debug("no recognizable ABI exports, defaulting to stream filter",
		zap.Strings("exports", info.Exports))
	return StreamFilter
}

// DetectFile classifies the module at path. An unreadable file classifies
// as RequestHandler, consistent with Detect never failing.
func DetectFile(ctx context.Context, eng *engine.Engine, path string) ExecutionModel {
	wasm, err := os.ReadFile(path)
	if err != nil {
		engine.Logger().Debug("classifying unreadable file as request handler",
			zap.String("path", path), zap.Error(err))
		return RequestHandler
	}
	return Detect(ctx, eng, wasm)
}
