package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/errors"
	"github.com/edgerun/wasmdbg/property"
)

// fakeGuest stands in for an instantiated stream-filter so the stage machine
// can be driven without a wasm binary.
type fakeGuest struct {
	host *hostState

	streamErr error
	missing   map[Stage]bool
	invoke    func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error)

	calls     []string // "<stage>:<arg>:<end>" per invocation
	delivered []*CallResult
	closed    bool
}

func (g *fakeGuest) newStream(ctx context.Context) error { return g.streamErr }

func (g *fakeGuest) hasStage(stage Stage) bool { return !g.missing[stage] }

func (g *fakeGuest) invokeStage(ctx context.Context, stage Stage, arg int, end bool) (ReturnCode, error) {
	g.calls = append(g.calls, fmt.Sprintf("%s:%d:%v", stage, arg, end))
	if g.invoke != nil {
		return g.invoke(g, stage, arg, end)
	}
	return Continue, nil
}

func (g *fakeGuest) deliverCallResponse(ctx context.Context, call *PendingHttpCall, res *CallResult) error {
	g.delivered = append(g.delivered, res)
	return nil
}

func (g *fakeGuest) close(ctx context.Context) error {
	g.closed = true
	return nil
}

func (g *fakeGuest) stageCalls(stage Stage) int {
	n := 0
	prefix := stage.String() + ":"
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func newTestRunner(guest *fakeGuest, opts ...Option) (*ProxyWasmRunner, *hostState) {
	cfg := defaultConfig()
	cfg.Logger = zap.NewNop()
	for _, opt := range opts {
		opt(&cfg)
	}
	host := newHostState(cfg.logger())
	guest.host = host
	return &ProxyWasmRunner{
		cfg:        cfg,
		guest:      guest,
		host:       host,
		dispatcher: newCallDispatcher(&cfg),
		state:      stateReady,
		sessionID:  "stream-filter-test",
	}, host
}

func TestFullFlowRunsAllStagesInOrder(t *testing.T) {
	guest := &fakeGuest{}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:    "http://example.com/a",
		Method: "GET",
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	if len(result.Hooks) != 4 {
		t.Fatalf("hooks = %d, want 4", len(result.Hooks))
	}
	wantOrder := []string{"request_headers", "request_body", "response_headers", "response_body"}
	for i, want := range wantOrder {
		if result.Hooks[i].Hook != want {
			t.Fatalf("hook %d = %s, want %s", i, result.Hooks[i].Hook, want)
		}
		if result.Hooks[i].ReturnCode == nil || *result.Hooks[i].ReturnCode != Continue {
			t.Fatalf("hook %s return code = %v, want continue", want, result.Hooks[i].ReturnCode)
		}
		if result.Hooks[i].Before == nil || result.Hooks[i].After == nil {
			t.Fatalf("hook %s missing snapshots", want)
		}
	}

	if result.Response.Status != 200 {
		t.Fatalf("synthesized status = %d, want 200", result.Response.Status)
	}
	if result.Response.StatusText != "OK" {
		t.Fatalf("status text = %q, want OK", result.Response.StatusText)
	}
}

func TestFullFlowStageFailureDoesNotAbortFlow(t *testing.T) {
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageRequestBody {
				return Continue, fmt.Errorf("wasm trap: unreachable")
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:         "http://example.com/",
		Method:      "POST",
		RequestBody: []byte("payload"),
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	if len(result.Hooks) != 4 {
		t.Fatalf("hooks = %d, want 4 even with a failed stage", len(result.Hooks))
	}
	failed := result.Hook("request_body")
	if failed.Err == nil {
		t.Fatal("request_body should carry the trap")
	}
	if !errors.IsKind(failed.Err, errors.KindTrap) {
		t.Fatalf("error = %v, want trap", failed.Err)
	}
	if failed.ReturnCode != nil {
		t.Fatalf("failed stage return code = %v, want nil", *failed.ReturnCode)
	}
	for _, name := range []string{"response_headers", "response_body"} {
		if hr := result.Hook(name); hr.Err != nil {
			t.Fatalf("later stage %s should still run cleanly: %v", name, hr.Err)
		}
	}
}

func TestFullFlowStreamCreateFailureMarksAllStages(t *testing.T) {
	guest := &fakeGuest{streamErr: fmt.Errorf("context create trapped")}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{URL: "http://example.com/"})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}
	if len(result.Hooks) != 4 {
		t.Fatalf("hooks = %d, want uniform 4-entry shape", len(result.Hooks))
	}
	for _, hr := range result.Hooks {
		if hr.Err == nil {
			t.Fatalf("hook %s should be marked failed", hr.Hook)
		}
	}
	if len(guest.calls) != 0 {
		t.Fatalf("no stage should be invoked, got %v", guest.calls)
	}
}

func TestMissingHookSkipsWithLog(t *testing.T) {
	guest := &fakeGuest{missing: map[Stage]bool{StageRequestBody: true}}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:         "http://example.com/",
		RequestBody: []byte("data"),
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("request_body")
	if hr.ReturnCode == nil || *hr.ReturnCode != Continue {
		t.Fatalf("skipped hook return code = %v, want continue", hr.ReturnCode)
	}
	found := false
	for _, line := range hr.Logs {
		if strings.Contains(line, "not exported") {
			found = true
		}
	}
	if !found {
		t.Fatalf("skip should be logged, got %v", hr.Logs)
	}
	if guest.stageCalls(StageRequestBody) != 0 {
		t.Fatal("missing hook must not be invoked")
	}
}

func TestPendingCallSuspendsAndResumesStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream says hi"))
	}))
	defer srv.Close()

	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageRequestHeaders && g.stageCalls(stage) == 1 {
				g.host.pending = append(g.host.pending, &PendingHttpCall{
					Token:  7,
					Target: strings.TrimPrefix(srv.URL, "http://"),
					Stage:  stage.String(),
				})
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{URL: "http://example.com/"})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("request_headers")
	if hr.Resumes != 1 {
		t.Fatalf("resumes = %d, want 1", hr.Resumes)
	}
	if hr.ReturnCode == nil || *hr.ReturnCode != Continue {
		t.Fatalf("return code = %v, want continue after resume", hr.ReturnCode)
	}
	if guest.stageCalls(StageRequestHeaders) != 2 {
		t.Fatalf("request_headers invoked %d times, want 2", guest.stageCalls(StageRequestHeaders))
	}
	if len(guest.delivered) != 1 {
		t.Fatalf("delivered = %d call results, want 1", len(guest.delivered))
	}
	if string(guest.delivered[0].Body) != "upstream says hi" {
		t.Fatalf("delivered body = %q", guest.delivered[0].Body)
	}
}

func TestPendingCallResumeCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// The guest dispatches a new call on every invocation and never settles.
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageRequestHeaders {
				g.host.pending = append(g.host.pending, &PendingHttpCall{
					Token:  uint32(len(g.calls)),
					Target: strings.TrimPrefix(srv.URL, "http://"),
					Stage:  stage.String(),
				})
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{URL: "http://example.com/"})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("request_headers")
	if hr.Err == nil {
		t.Fatal("runaway hook should hit the resume ceiling")
	}
	if !errors.IsKind(hr.Err, errors.KindResumeCeiling) {
		t.Fatalf("error = %v, want resume_ceiling", hr.Err)
	}
	// The flow still produces the remaining stages.
	if len(result.Hooks) != 4 {
		t.Fatalf("hooks = %d, want 4", len(result.Hooks))
	}
}

func TestBufferAndResumeGrowsBody(t *testing.T) {
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageRequestBody && !end {
				return StopIterationAndBuffer, nil
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest, WithBodyChunkSize(2))

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:         "http://example.com/",
		RequestBody: []byte("abcdef"),
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("request_body")
	if hr.Resumes != 2 {
		t.Fatalf("resumes = %d, want 2 (2 -> 4 -> 6 bytes)", hr.Resumes)
	}
	if hr.ReturnCode == nil || *hr.ReturnCode != Continue {
		t.Fatalf("return code = %v, want continue once fully buffered", hr.ReturnCode)
	}

	want := []string{
		"request_body:2:false",
		"request_body:4:false",
		"request_body:6:true",
	}
	var bodyCalls []string
	for _, c := range guest.calls {
		if strings.HasPrefix(c, "request_body:") {
			bodyCalls = append(bodyCalls, c)
		}
	}
	if len(bodyCalls) != len(want) {
		t.Fatalf("body invocations = %v, want %v", bodyCalls, want)
	}
	for i := range want {
		if bodyCalls[i] != want[i] {
			t.Fatalf("body invocation %d = %s, want %s", i, bodyCalls[i], want[i])
		}
	}
}

func TestStopIterationAndBufferOnFullBodyDefers(t *testing.T) {
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageResponseBody {
				return StopIterationAndBuffer, nil
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:          "http://example.com/",
		ResponseBody: []byte("whole body"),
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("response_body")
	if !hr.Deferred {
		t.Fatal("fully buffered StopIterationAndBuffer should defer")
	}
	if hr.Resumes != 0 {
		t.Fatalf("resumes = %d, want 0", hr.Resumes)
	}
}

func TestDeniedPropertyWriteRecordsViolation(t *testing.T) {
	// The guest tries to overwrite the read-only request method from the
	// response_headers stage, mirroring what the set-property host function
	// does on a denial.
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageResponseHeaders {
				if d := g.host.policy.CheckWrite("request.method", g.host.stage); !d.Allowed() {
					g.host.recordViolation(property.AccessWrite, "request.method", d, "POST")
				} else {
					g.host.sc.SetProperty("request.method", "POST", true)
				}
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:                  "http://example.com/",
		Method:               "GET",
		EnforcePropertyRules: true,
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("response_headers")
	if len(hr.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(hr.Violations))
	}
	v := hr.Violations[0]
	if v.Path != "request.method" || v.Kind != property.AccessWrite {
		t.Fatalf("violation = %+v", v)
	}
	if got := hr.After.Properties["request.method"]; got != "GET" {
		t.Fatalf("request.method after denial = %q, want GET untouched", got)
	}
	found := false
	for _, line := range hr.Logs {
		if strings.Contains(line, "denied") {
			found = true
		}
	}
	if !found {
		t.Fatalf("denial should surface in hook logs, got %v", hr.Logs)
	}
}

func TestLenientModeAllowsEveryWrite(t *testing.T) {
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageResponseHeaders {
				if d := g.host.policy.CheckWrite("request.method", g.host.stage); d.Allowed() {
					g.host.sc.SetProperty("request.method", "POST", true)
				}
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:    "http://example.com/",
		Method: "GET",
		// EnforcePropertyRules left false: exploratory mode.
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	hr := result.Hook("response_headers")
	if len(hr.Violations) != 0 {
		t.Fatalf("violations = %v, want none in lenient mode", hr.Violations)
	}
	if got := result.Properties["request.method"]; got != "POST" {
		t.Fatalf("computed request.method = %q, want POST", got)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	guest := &fakeGuest{}
	r, _ := newTestRunner(guest)

	if err := r.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup error: %v", err)
	}
	if !guest.closed {
		t.Fatal("cleanup should close the guest")
	}
	if err := r.Cleanup(context.Background()); err != nil {
		t.Fatalf("second cleanup error: %v", err)
	}

	_, err := r.CallFullFlow(context.Background(), FlowRequest{URL: "http://example.com/"})
	if err == nil {
		t.Fatal("flow after cleanup should fail")
	}
	if !errors.IsKind(err, errors.KindClosed) {
		t.Fatalf("error = %v, want closed", err)
	}
}

func TestGuestResponseMutationReachesFinalResponse(t *testing.T) {
	guest := &fakeGuest{
		invoke: func(g *fakeGuest, stage Stage, arg int, end bool) (ReturnCode, error) {
			if stage == StageResponseHeaders {
				g.host.sc.ResponseHeaders.Set("X-Filtered", "yes")
				g.host.sc.ResponseStatus = 404
				g.host.sc.ResponseStatusText = ""
			}
			return Continue, nil
		},
	}
	r, _ := newTestRunner(guest)

	result, err := r.CallFullFlow(context.Background(), FlowRequest{
		URL:             "http://example.com/missing",
		ResponseHeaders: NewHeaders("Content-Type", "text/plain"),
		ResponseBody:    []byte("not here"),
		ResponseStatus:  200,
	})
	if err != nil {
		t.Fatalf("flow error: %v", err)
	}

	if result.Response.Status != 404 {
		t.Fatalf("status = %d, want guest-set 404", result.Response.Status)
	}
	if result.Response.StatusText != "Not Found" {
		t.Fatalf("status text = %q, want Not Found", result.Response.StatusText)
	}
	if got := result.Response.Headers.Get("X-Filtered"); got != "yes" {
		t.Fatalf("X-Filtered = %q, want yes", got)
	}
	if result.Response.ContentType != "text/plain" {
		t.Fatalf("content type = %q, want text/plain", result.Response.ContentType)
	}
	if result.Response.Binary {
		t.Fatal("utf-8 body should not be flagged binary")
	}
}
