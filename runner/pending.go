package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/errors"
)

// PendingHttpCall is an outbound call a guest dispatched mid-hook. The
// enclosing hook stage may not reach a terminal status until every pending
// call is resolved or timed out and delivered back to the guest.
type PendingHttpCall struct {
	Token   uint32
	Target  string // host or cluster name the guest addressed
	Method  string
	Path    string
	Headers *Headers
	Body    []byte
	Timeout time.Duration
	Stage   string // hook stage that dispatched the call
}

// CallResult is what gets delivered to the guest's response callback.
type CallResult struct {
	Status  int
	Headers *Headers
	Body    []byte
	// Err is set when the call failed or timed out; the guest then sees an
	// empty result and the stage still resumes.
	Err error
}

// callDispatcher performs pending calls against real upstreams with a
// capped deadline and bounded response size.
type callDispatcher struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
	logger  *zap.Logger
}

func newCallDispatcher(cfg *Config) *callDispatcher {
	return &callDispatcher{
		client:  &http.Client{},
		timeout: cfg.CallTimeout,
		maxBody: cfg.MaxCallBodySize,
		logger:  cfg.logger(),
	}
}

// dispatch performs one pending call. It never returns an error: failures
// and timeouts resolve into the CallResult so the stage can resume.
func (d *callDispatcher) dispatch(ctx context.Context, call *PendingHttpCall) *CallResult {
	timeout := call.Timeout
	if timeout <= 0 || timeout > d.timeout {
		timeout = d.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := call.Method
	if method == "" {
		method = "GET"
	}

	target := call.Target
	path := call.Path
	if path == "" {
		path = "/"
	}
	urlStr := target
	if !hasScheme(target) {
		urlStr = "http://" + target
	}
	urlStr += path

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return &CallResult{Err: errors.Wrap(errors.PhaseCall, errors.KindCallFailed, err, "build request")}
	}
	if call.Headers != nil {
		for _, pair := range call.Headers.Pairs() {
			if len(pair[0]) > 0 && pair[0][0] == ':' {
				continue // pseudo-headers are not wire headers
			}
			req.Header.Add(pair[0], pair[1])
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			d.logger.Debug("pending call timed out",
				zap.String("target", call.Target), zap.Duration("timeout", timeout))
			return &CallResult{Err: errors.CallTimeout(call.Stage, call.Target)}
		}
		return &CallResult{Err: errors.Wrap(errors.PhaseCall, errors.KindCallFailed, err, "perform call")}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody))
	if err != nil {
		return &CallResult{Err: errors.Wrap(errors.PhaseCall, errors.KindCallFailed, err, "read response")}
	}

	headers := NewHeaders(":status", fmt.Sprintf("%d", resp.StatusCode))
	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			headers.Add(k, v)
		}
	}

	return &CallResult{Status: resp.StatusCode, Headers: headers, Body: respBody}
}

func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == ':':
			return i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/'
		case s[i] == '/' || s[i] == '.':
			return false
		}
	}
	return false
}
