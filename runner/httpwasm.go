package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/errors"
	"github.com/edgerun/wasmdbg/property"
)

// HttpWasmRunner drives a request-handler module: one synthesized request
// bridged through a listener on a leased port, one response back.
type HttpWasmRunner struct {
	cfg       Config
	inst      *engine.Instance
	host      *hostState
	ports     *PortManager
	state     sessionState
	sessionID string
}

// CallFullFlow leases a port, serves the guest behind it for exactly one
// round trip, and returns a single-entry result under the synthetic
// "request" hook. A failed port lease aborts before the guest runs; any
// failure after that still releases the port.
func (r *HttpWasmRunner) CallFullFlow(ctx context.Context, req FlowRequest) (*FullFlowResult, error) {
	if r.state == stateCleaned {
		return nil, errors.Closed(errors.PhaseExecute, "runner")
	}
	r.state = stateExecuting
	defer func() { r.state = stateReady }()

	sc := seedContext(req, &r.cfg)
	r.host.reset(sc, property.Default(req.EnforcePropertyRules))
	r.host.setStage(requestStageName)

	lease, err := r.ports.Lease(r.sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.ports.Release(lease); err != nil {
			r.cfg.logger().Warn("port release failed",
				zap.String("session", r.sessionID), zap.Error(err))
		}
	}()

	hr := &HookResult{
		Hook:   requestStageName,
		Before: sc.Snapshot(),
	}

	var guestErr error
	var next uint64

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, incoming *http.Request) {
			// Fold the wire request into the context; the guest reads and
			// mutates the context through its host functions.
			r.mergeIncoming(sc, incoming)

			res, err := r.inst.Call(incoming.Context(), "handle_request")
			if err != nil {
				guestErr = err
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if len(res) > 0 {
				next = res[0]
			}

			writeContextResponse(w, sc)
		}),
	}

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		server.Serve(lease.Listener())
	}()

	resp, roundTripErr := r.roundTrip(ctx, lease.Port, req)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	server.Shutdown(shutdownCtx)
	cancel()
	<-serveDone

	logs, violations := r.host.drain()
	hr.Logs = logs
	hr.Violations = violations

	switch {
	case guestErr != nil:
		hr.Err = errors.Trap(requestStageName, guestErr)
	case roundTripErr != nil:
		hr.Err = errors.Wrap(errors.PhaseExecute, errors.KindCallFailed, roundTripErr, "round trip")
	default:
		// Bit 0 of the handler's return asks the host to continue to the
		// next handler (here: the seeded upstream response); a clear bit
		// means the guest produced the terminal response itself.
		code := StopIteration
		if next&1 == 1 {
			code = Continue
		}
		hr.ReturnCode = &code
		if resp != nil {
			sc.ResponseStatus = resp.status
			sc.ResponseStatusText = resp.statusText
		}
	}
	hr.After = sc.Snapshot()

	result := &FullFlowResult{
		Hooks:      []*HookResult{hr},
		Response:   synthesizeResponse(sc),
		Properties: sc.ComputedProperties(),
	}
	return result, nil
}

type wireResponse struct {
	status     int
	statusText string
}

// roundTrip issues the single client request against the leased port.
func (r *HttpWasmRunner) roundTrip(ctx context.Context, port int, req FlowRequest) (*wireResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ServeTimeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := "/"
	if u, err := url.Parse(req.URL); err == nil && req.URL != "" {
		if u.Path != "" {
			path = u.Path
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}

	var body io.Reader
	if len(req.RequestBody) > 0 {
		body = bytes.NewReader(req.RequestBody)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if req.RequestHeaders != nil {
		for _, pair := range req.RequestHeaders.Pairs() {
			if len(pair[0]) > 0 && pair[0][0] == ':' {
				continue // pseudo-headers are not wire headers
			}
			httpReq.Header.Add(pair[0], pair[1])
		}
	}

	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return &wireResponse{status: resp.StatusCode, statusText: resp.Status}, nil
}

// mergeIncoming overlays the wire request onto the seeded context without
// disturbing the seeded ordering of already-present headers.
func (r *HttpWasmRunner) mergeIncoming(sc *StreamContext, incoming *http.Request) {
	keys := make([]string, 0, len(incoming.Header))
	for k := range incoming.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range incoming.Header[k] {
			sc.RequestHeaders.Add(k, v)
		}
	}
	if incoming.Body != nil {
		if data, err := io.ReadAll(incoming.Body); err == nil && len(data) > 0 {
			sc.RequestBody = data
		}
	}
}

// writeContextResponse renders the context's response state onto the wire.
func writeContextResponse(w http.ResponseWriter, sc *StreamContext) {
	for _, pair := range sc.ResponseHeaders.Pairs() {
		w.Header().Add(pair[0], pair[1])
	}
	status := sc.ResponseStatus
	if status == 0 {
		status = 200
	}
	w.WriteHeader(status)
	w.Write(sc.ResponseBody)
}

// Cleanup closes the guest. The port is never held between flows, so only
// the instance needs tearing down. Idempotent; failures are logged.
func (r *HttpWasmRunner) Cleanup(ctx context.Context) error {
	if r.state == stateCleaned {
		return nil
	}
	r.state = stateCleaned

	if err := r.inst.Close(ctx); err != nil {
		r.cfg.logger().Warn("guest close failed",
			zap.String("session", r.sessionID), zap.Error(err))
	}
	return nil
}
