package detect

import (
	"context"
	"testing"

	"github.com/edgerun/wasmdbg/engine"
)

// Minimal valid WASM module (no exports)
var minimalWASM = []byte{
	0x00, 0x61, 0x73, 0x6d,
	0x01, 0x00, 0x00, 0x00,
}

// exportWASM assembles a module exporting one nullary function with the
// given name.
func exportWASM(name string) []byte {
	mod := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
		// Type section: () -> ()
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
		// Function section: func 0 uses type 0
		0x03, 0x02, 0x01, 0x00,
	}
	// Export section: name -> func 0
	body := []byte{0x01, byte(len(name))}
	body = append(body, name...)
	body = append(body, 0x00, 0x00)
	mod = append(mod, 0x07, byte(len(body)))
	mod = append(mod, body...)
	// Code section: empty body
	mod = append(mod, 0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b)
	return mod
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx)
	if err != nil {
		t.Fatalf("engine.New error: %v", err)
	}
	t.Cleanup(func() { eng.Close(ctx) })
	return eng
}

func TestDetect_CompileFailure(t *testing.T) {
	eng := newTestEngine(t)

	got := Detect(context.Background(), eng, []byte("definitely not wasm"))
	if got != RequestHandler {
		t.Errorf("expected RequestHandler for uncompilable binary, got %v", got)
	}
}

func TestDetect_HandlerExport(t *testing.T) {
	eng := newTestEngine(t)

	got := Detect(context.Background(), eng, exportWASM("handle_request"))
	if got != RequestHandler {
		t.Errorf("expected RequestHandler, got %v", got)
	}

	got = Detect(context.Background(), eng, exportWASM("handle_response"))
	if got != RequestHandler {
		t.Errorf("expected RequestHandler for handle_response, got %v", got)
	}
}

func TestDetect_StreamFilterExport(t *testing.T) {
	eng := newTestEngine(t)

	got := Detect(context.Background(), eng, exportWASM("proxy_on_request_headers"))
	if got != StreamFilter {
		t.Errorf("expected StreamFilter, got %v", got)
	}
}

func TestDetect_Default(t *testing.T) {
	eng := newTestEngine(t)

	got := Detect(context.Background(), eng, minimalWASM)
	if got != StreamFilter {
		t.Errorf("expected StreamFilter default, got %v", got)
	}
}

func TestDetect_HandlerWinsOverDefault(t *testing.T) {
	eng := newTestEngine(t)

	// A guest exporting both styles is a handler: the handler export is an
	// exact ABI entry point, the prefix match is only a convention.
	got := Detect(context.Background(), eng, exportWASM("handle_request"))
	if got != RequestHandler {
		t.Errorf("expected RequestHandler, got %v", got)
	}
}

func TestExecutionModel_WireNames(t *testing.T) {
	if StreamFilter.String() != "proxy-wasm" {
		t.Errorf("unexpected stream filter wire name %q", StreamFilter.String())
	}
	if RequestHandler.String() != "http-wasm" {
		t.Errorf("unexpected request handler wire name %q", RequestHandler.String())
	}

	if m, ok := ParseModel("proxy-wasm"); !ok || m != StreamFilter {
		t.Error("ParseModel(proxy-wasm) failed")
	}
	if m, ok := ParseModel("http-wasm"); !ok || m != RequestHandler {
		t.Error("ParseModel(http-wasm) failed")
	}
	if _, ok := ParseModel("native"); ok {
		t.Error("ParseModel should reject unknown names")
	}
}
