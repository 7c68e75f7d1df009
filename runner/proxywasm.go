package runner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/errors"
	"github.com/edgerun/wasmdbg/property"
)

// proxyGuest abstracts the instantiated stream-filter guest so the stage
// machine can be exercised without a real wasm binary.
type proxyGuest interface {
	// newStream announces a new stream context before the first stage.
	newStream(ctx context.Context) error
	// hasStage reports whether the guest implements the stage hook.
	hasStage(stage Stage) bool
	// invokeStage calls the stage hook. arg is the header count for header
	// stages and the buffered body length for body stages.
	invokeStage(ctx context.Context, stage Stage, arg int, endOfStream bool) (ReturnCode, error)
	// deliverCallResponse hands a resolved pending call to the guest's
	// response callback.
	deliverCallResponse(ctx context.Context, call *PendingHttpCall, res *CallResult) error
	close(ctx context.Context) error
}

// ProxyWasmRunner drives a stream-filter module through the four ordered
// hook stages.
type ProxyWasmRunner struct {
	cfg        Config
	guest      proxyGuest
	host       *hostState
	dispatcher *callDispatcher
	state      sessionState
	sessionID  string
}

var stageExports = map[Stage]string{
	StageRequestHeaders:  "proxy_on_request_headers",
	StageRequestBody:     "proxy_on_request_body",
	StageResponseHeaders: "proxy_on_response_headers",
	StageResponseBody:    "proxy_on_response_body",
}

// wasmProxyGuest adapts an engine.Instance to the proxyGuest interface.
type wasmProxyGuest struct {
	inst     *engine.Instance
	host     *hostState
	rootID   uint32
	streamID uint32
}

const rootContextID = 1

func (g *wasmProxyGuest) newStream(ctx context.Context) error {
	g.streamID++
	if !g.inst.HasExport("proxy_on_context_create") {
		return nil
	}
	_, err := g.inst.Call(ctx, "proxy_on_context_create", uint64(g.streamID), uint64(g.rootID))
	return err
}

func (g *wasmProxyGuest) hasStage(stage Stage) bool {
	return g.inst.HasExport(stageExports[stage])
}

func (g *wasmProxyGuest) invokeStage(ctx context.Context, stage Stage, arg int, endOfStream bool) (ReturnCode, error) {
	name := stageExports[stage]

	args := []uint64{uint64(g.streamID), uint64(arg)}
	// ABI revisions differ: older header hooks take (ctx, count), newer
	// ones take (ctx, count, end_of_stream).
	if g.inst.ParamCount(name) == 3 {
		end := uint64(0)
		if endOfStream {
			end = 1
		}
		args = append(args, end)
	}

	res, err := g.inst.Call(ctx, name, args...)
	if err != nil {
		return Continue, err
	}
	if len(res) == 0 {
		return Continue, nil
	}
	code := ReturnCode(res[0])
	if code < Continue || code > StopIterationAndBuffer {
		return Continue, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Stage(stage.String()).
			Detail("guest returned unknown status %d", res[0]).
			Build()
	}
	return code, nil
}

func (g *wasmProxyGuest) deliverCallResponse(ctx context.Context, call *PendingHttpCall, res *CallResult) error {
	// Expose the result through the call-response header map and buffer.
	if res.Err != nil {
		g.host.callHeaders = NewHeaders()
		g.host.callBody = nil
	} else {
		g.host.callHeaders = res.Headers
		g.host.callBody = res.Body
	}

	if !g.inst.HasExport("proxy_on_http_call_response") {
		return errors.MissingExport(errors.PhaseExecute, "proxy_on_http_call_response")
	}

	numHeaders := 0
	if g.host.callHeaders != nil {
		numHeaders = len(g.host.callHeaders.Pairs())
	}
	_, err := g.inst.Call(ctx, "proxy_on_http_call_response",
		uint64(g.streamID), uint64(call.Token),
		uint64(numHeaders), uint64(len(g.host.callBody)), 0)
	return err
}

func (g *wasmProxyGuest) close(ctx context.Context) error {
	return g.inst.Close(ctx)
}

// CallFullFlow runs the four stages in order, accumulating one HookResult
// per stage, then synthesizes the final response. A failed stage is
// captured in its result; the remaining stages still run with best-effort
// context.
func (r *ProxyWasmRunner) CallFullFlow(ctx context.Context, req FlowRequest) (*FullFlowResult, error) {
	if r.state == stateCleaned {
		return nil, errors.Closed(errors.PhaseExecute, "runner")
	}
	r.state = stateExecuting
	defer func() { r.state = stateReady }()

	sc := seedContext(req, &r.cfg)
	r.host.reset(sc, property.Default(req.EnforcePropertyRules))

	result := &FullFlowResult{}

	if err := r.guest.newStream(ctx); err != nil {
		// Without a stream context no hook can run; report every stage as
		// failed so the result shape stays uniform.
		for _, stage := range Stages {
			result.Hooks = append(result.Hooks, &HookResult{
				Hook: stage.String(),
				Err:  errors.Trap(stage.String(), err),
			})
		}
		result.Response = synthesizeResponse(sc)
		result.Properties = sc.ComputedProperties()
		return result, nil
	}

	for _, stage := range Stages {
		result.Hooks = append(result.Hooks, r.runStage(ctx, stage))
	}

	result.Response = synthesizeResponse(sc)
	result.Properties = sc.ComputedProperties()

	r.cfg.logger().Debug("full flow complete",
		zap.String("session", r.sessionID),
		zap.Int("status", result.Response.Status))

	return result, nil
}

// runStage drives one hook to a terminal status, handling pending call
// resolution and buffer-and-resume re-invocations.
func (r *ProxyWasmRunner) runStage(ctx context.Context, stage Stage) *HookResult {
	r.host.setStage(stage.String())

	hr := &HookResult{
		Hook:   stage.String(),
		Before: r.host.sc.Snapshot(),
	}

	defer func() {
		logs, violations := r.host.drain()
		hr.Logs = append(hr.Logs, logs...)
		hr.Violations = violations
		hr.After = r.host.sc.Snapshot()
	}()

	if !r.guest.hasStage(stage) {
		code := Continue
		hr.ReturnCode = &code
		r.host.log(fmt.Sprintf("hook %s not exported, skipping", stageExports[stage]))
		return hr
	}

	body := r.stageBody(stage)
	chunk := r.cfg.BodyChunkSize
	buffered := len(body)
	if stage.IsBody() && chunk > 0 && chunk < buffered {
		buffered = chunk
	}

	for {
		arg, end := r.stageArgs(stage, buffered)
		if stage.IsBody() {
			r.host.bufferedLen = buffered
		}

		code, err := r.guest.invokeStage(ctx, stage, arg, end)
		r.host.bufferedLen = -1
		if err != nil {
			hr.Err = errors.Trap(stage.String(), err)
			return hr
		}

		// Pending calls suspend the stage: resolve each, deliver to the
		// guest, then re-invoke the same hook so the guest can inspect the
		// result before returning a terminal status.
		if pending := r.host.takePending(); len(pending) > 0 {
			for _, call := range pending {
				res := r.dispatcher.dispatch(ctx, call)
				if res.Err != nil {
					r.host.log(fmt.Sprintf("call token=%d failed: %v", call.Token, res.Err))
				}
				if err := r.guest.deliverCallResponse(ctx, call, res); err != nil {
					hr.Err = errors.Trap(stage.String(), err)
					return hr
				}
			}
			hr.Resumes++
			if hr.Resumes > maxStageResumes {
				hr.Err = errors.ResumeCeiling(stage.String(), hr.Resumes)
				return hr
			}
			continue
		}

		switch code {
		case Continue:
			hr.ReturnCode = &code
			return hr
		case StopIteration:
			hr.ReturnCode = &code
			hr.Deferred = true
			return hr
		case StopIterationAndBuffer:
			if stage.IsBody() && buffered < len(body) {
				// Re-invoke with a progressively larger buffered view;
				// the guest only ever sees fully buffered bodies once end
				// of stream is reached.
				buffered += chunk
				if buffered > len(body) {
					buffered = len(body)
				}
				hr.Resumes++
				if hr.Resumes > maxStageResumes {
					hr.Err = errors.ResumeCeiling(stage.String(), hr.Resumes)
					return hr
				}
				continue
			}
			// Full body already delivered; treat as a deferral.
			hr.ReturnCode = &code
			hr.Deferred = true
			return hr
		}
	}
}

func (r *ProxyWasmRunner) stageBody(stage Stage) []byte {
	switch stage {
	case StageRequestBody:
		return r.host.sc.RequestBody
	case StageResponseBody:
		return r.host.sc.ResponseBody
	}
	return nil
}

// stageArgs computes the hook argument and end-of-stream flag.
func (r *ProxyWasmRunner) stageArgs(stage Stage, buffered int) (int, bool) {
	switch stage {
	case StageRequestHeaders:
		return r.host.sc.RequestHeaders.Len(), len(r.host.sc.RequestBody) == 0
	case StageResponseHeaders:
		return r.host.sc.ResponseHeaders.Len(), len(r.host.sc.ResponseBody) == 0
	case StageRequestBody:
		return buffered, buffered >= len(r.host.sc.RequestBody)
	case StageResponseBody:
		return buffered, buffered >= len(r.host.sc.ResponseBody)
	}
	return 0, true
}

// Cleanup tears the guest down. Idempotent; failures are logged and
// swallowed so the caller can always proceed.
func (r *ProxyWasmRunner) Cleanup(ctx context.Context) error {
	if r.state == stateCleaned {
		return nil
	}
	r.state = stateCleaned

	if err := r.guest.close(ctx); err != nil {
		r.cfg.logger().Warn("guest close failed",
			zap.String("session", r.sessionID), zap.Error(err))
	}
	return nil
}

// hasAnyStageExport reports whether info exports at least one stream-filter
// stage hook.
func hasAnyStageExport(exports []string) bool {
	for _, name := range exports {
		if strings.HasPrefix(name, "proxy_on_") {
			return true
		}
	}
	return false
}
