package suite

import (
	"context"
	"fmt"
	"testing"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/errors"
	"github.com/edgerun/wasmdbg/runner"
)

// WASM exporting proxy_on_request_headers(i32, i32) -> i32 returning 0,
// enough to create a stream-filter runner per case.
var filterWASM = []byte{
	0x00, 0x61, 0x73, 0x6d,
	0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x1c, 0x01,
	0x18, 0x70, 0x72, 0x6f, 0x78, 0x79, 0x5f, 0x6f, 0x6e, 0x5f,
	0x72, 0x65, 0x71, 0x75, 0x65, 0x73, 0x74, 0x5f,
	0x68, 0x65, 0x61, 0x64, 0x65, 0x72, 0x73, 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x00, 0x0b,
}

// WASM exporting handle_request() -> i64 returning 1 (continue to next
// handler), enough to create a request-handler runner per case.
var handlerWASM = []byte{
	0x00, 0x61, 0x73, 0x6d,
	0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7e,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x12, 0x01,
	0x0e, 0x68, 0x61, 0x6e, 0x64, 0x6c, 0x65, 0x5f,
	0x72, 0x65, 0x71, 0x75, 0x65, 0x73, 0x74, 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x42, 0x01, 0x0b,
}

func passingCase(name string) Case {
	return Case{Name: name, Run: func(t *T) error { return nil }}
}

func TestDefineValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no source", Config{Cases: []Case{passingCase("a")}}},
		{"two sources", Config{Path: "f.wasm", Wasm: filterWASM, Cases: []Case{passingCase("a")}}},
		{"no cases", Config{Wasm: filterWASM}},
		{"unnamed case", Config{Wasm: filterWASM, Cases: []Case{{Run: func(t *T) error { return nil }}}}},
		{"nil run", Config{Wasm: filterWASM, Cases: []Case{{Name: "a"}}}},
	}
	for _, tc := range cases {
		_, err := Define(tc.cfg)
		if err == nil {
			t.Errorf("%s: expected config error", tc.name)
			continue
		}
		if !errors.IsKind(err, errors.KindSuiteConfig) {
			t.Errorf("%s: expected suite_config error, got %v", tc.name, err)
		}
	}

	if _, err := Define(Config{Wasm: filterWASM, Cases: []Case{passingCase("a")}}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestRunCountsFailures(t *testing.T) {
	s, err := Define(Config{
		Wasm: filterWASM,
		Cases: []Case{
			passingCase("first"),
			{Name: "second", Run: func(t *T) error {
				return fmt.Errorf("header never arrived")
			}},
			passingCase("third"),
		},
	})
	if err != nil {
		t.Fatalf("Define error: %v", err)
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Total != 3 || summary.Passed != 2 || summary.Failed != 1 || summary.Errored != 0 {
		t.Fatalf("summary = %d total / %d passed / %d failed / %d errored, want 3/2/1/0",
			summary.Total, summary.Passed, summary.Failed, summary.Errored)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(summary.Results))
	}
	if summary.Results[1].Status != CaseFailed {
		t.Errorf("second case status = %s, want failed", summary.Results[1].Status)
	}
	if summary.Results[1].Err == nil {
		t.Error("failed case should carry its error")
	}
	if summary.Results[2].Status != CasePassed {
		t.Error("failing case must not stop the cases after it")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	s, err := Define(Config{
		Wasm: filterWASM,
		Cases: []Case{
			{Name: "panics", Run: func(t *T) error { panic("boom") }},
			passingCase("survives"),
		},
	})
	if err != nil {
		t.Fatalf("Define error: %v", err)
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Errored != 1 || summary.Passed != 1 {
		t.Fatalf("summary = %d errored / %d passed, want 1/1", summary.Errored, summary.Passed)
	}
	if summary.Results[0].Status != CaseErrored {
		t.Errorf("panicking case status = %s, want errored", summary.Results[0].Status)
	}
}

func TestRunUnreadableSource(t *testing.T) {
	s, err := Define(Config{
		Path:  "does/not/exist.wasm",
		Cases: []Case{passingCase("a")},
	})
	if err != nil {
		t.Fatalf("Define error: %v", err)
	}
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for unreadable wasm source")
	}
}

func TestFlowDerivesPseudoHeaders(t *testing.T) {
	s, err := Define(Config{
		Wasm: filterWASM,
		Cases: []Case{
			{Name: "pseudo headers", Run: func(st *T) error {
				res, err := st.Flow(FlowOptions{
					URL:    "https://shop.example.com/cart?sku=42",
					Method: "POST",
				})
				if err != nil {
					return err
				}
				for key, want := range map[string]string{
					":method":    "POST",
					":path":      "/cart?sku=42",
					":authority": "shop.example.com",
					":scheme":    "https",
				} {
					if err := AssertRequestHeader(res, key, want); err != nil {
						return err
					}
				}
				return nil
			}},
			{Name: "explicit override wins", Run: func(st *T) error {
				res, err := st.Flow(FlowOptions{
					URL:     "http://shop.example.com/",
					Headers: runner.NewHeaders(":authority", "internal.example", "X-Tag", "v"),
				})
				if err != nil {
					return err
				}
				if err := AssertRequestHeader(res, ":authority", "internal.example"); err != nil {
					return err
				}
				return AssertRequestHeader(res, "X-Tag", "v")
			}},
		},
	})
	if err != nil {
		t.Fatalf("Define error: %v", err)
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, res := range summary.Results {
		if res.Status != CasePassed {
			t.Errorf("case %s: %v", res.Name, res.Err)
		}
	}
}

func TestFlowRequestHandlerModel(t *testing.T) {
	s, err := Define(Config{
		Wasm: handlerWASM,
		Cases: []Case{
			// The derived pseudo-headers must never reach the wire: net/http
			// rejects ":"-prefixed field names, which would fail the round
			// trip before the guest runs.
			{Name: "round trip", Run: func(st *T) error {
				if st.Model() != detect.RequestHandler {
					return fmt.Errorf("model = %s, want request handler", st.Model())
				}
				res, err := st.Flow(FlowOptions{
					URL:            "http://shop.example.com/cart?sku=42",
					Method:         "POST",
					Headers:        runner.NewHeaders("X-Tag", "v"),
					ResponseStatus: 201,
				})
				if err != nil {
					return err
				}
				hr := res.Hook("request")
				if hr == nil {
					return fmt.Errorf("no request hook result")
				}
				if hr.Err != nil {
					return fmt.Errorf("request hook failed: %w", hr.Err)
				}
				if err := AssertReturnCode(res, "request", runner.Continue); err != nil {
					return err
				}
				return AssertFinalStatus(res, 201)
			}},
		},
	})
	if err != nil {
		t.Fatalf("Define error: %v", err)
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, res := range summary.Results {
		if res.Status != CasePassed {
			t.Errorf("case %s: %v", res.Name, res.Err)
		}
	}
}

func TestAssertionsOnConstructedResult(t *testing.T) {
	code := runner.Continue
	res := &runner.FullFlowResult{
		Hooks: []*runner.HookResult{
			{
				Hook:       "request_headers",
				Logs:       []string{"[info] saw request"},
				ReturnCode: &code,
				After: &runner.ContextSnapshot{
					RequestHeaders: runner.NewHeaders("X-Added", "yes"),
				},
			},
		},
		Response: runner.FinalResponse{
			Status:  200,
			Headers: runner.NewHeaders("Content-Type", "text/html"),
		},
		Properties: map[string]string{"response.status": "200"},
	}

	if err := AssertRequestHeader(res, "X-Added", "yes"); err != nil {
		t.Errorf("AssertRequestHeader: %v", err)
	}
	if err := AssertNoRequestHeader(res, "X-Missing"); err != nil {
		t.Errorf("AssertNoRequestHeader: %v", err)
	}
	if err := AssertResponseHeader(res, "Content-Type", "text/html"); err != nil {
		t.Errorf("AssertResponseHeader: %v", err)
	}
	if err := AssertFinalStatus(res, 200); err != nil {
		t.Errorf("AssertFinalStatus: %v", err)
	}
	if err := AssertReturnCode(res, "request_headers", runner.Continue); err != nil {
		t.Errorf("AssertReturnCode: %v", err)
	}
	if err := AssertLogContains(res, "request_headers", "saw request"); err != nil {
		t.Errorf("AssertLogContains: %v", err)
	}
	if err := AssertPropertyAllowed(res, "response.status", "200"); err != nil {
		t.Errorf("AssertPropertyAllowed: %v", err)
	}

	if err := AssertFinalStatus(res, 404); err == nil {
		t.Error("AssertFinalStatus should fail on mismatch")
	}
	if err := AssertReturnCode(res, "request_headers", runner.StopIteration); err == nil {
		t.Error("AssertReturnCode should fail on mismatch")
	}
	if err := AssertPropertyDenied(res, "request.method"); err == nil {
		t.Error("AssertPropertyDenied should fail without a violation")
	}
}
