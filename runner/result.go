package runner

import (
	"unicode/utf8"

	"github.com/edgerun/wasmdbg/property"
)

// ReturnCode is the terminal status a hook invocation reports.
type ReturnCode int

const (
	// Continue ends the stage; the flow advances.
	Continue ReturnCode = iota
	// StopIteration ends the stage but defers downstream processing of the
	// stream direction; the flow still advances and records the deferral.
	StopIteration
	// StopIterationAndBuffer asks for the body to be buffered further; on a
	// body stage the hook is re-invoked with a larger buffered view until
	// end of stream.
	StopIterationAndBuffer
)

func (c ReturnCode) String() string {
	switch c {
	case Continue:
		return "continue"
	case StopIteration:
		return "stop_iteration"
	case StopIterationAndBuffer:
		return "stop_iteration_and_buffer"
	}
	return "unknown"
}

// HookResult captures everything one hook invocation did. Immutable once
// the enclosing flow returns it.
type HookResult struct {
	// Hook is the stage name ("request_headers", ..., or "request" for the
	// request-handler model).
	Hook string
	// Logs are the guest's log lines in emission order, including denial
	// notices from the property policy.
	Logs []string
	// ReturnCode is nil when the hook failed before returning a status.
	ReturnCode *ReturnCode
	// Before and After snapshot the stream context around the hook.
	Before *ContextSnapshot
	After  *ContextSnapshot
	// Violations lists denied property accesses during the hook.
	Violations []property.Violation
	// Resumes counts re-invocations of the hook (buffering or pending
	// outbound calls).
	Resumes int
	// Deferred records a StopIteration outcome.
	Deferred bool
	// Err is the captured stage failure, if any. The flow continues past a
	// failed stage; the error is never re-thrown.
	Err error
}

// FinalResponse is the response the flow synthesizes once every stage ran.
type FinalResponse struct {
	Status      int
	StatusText  string
	Headers     *Headers
	Body        []byte
	ContentType string
	Binary      bool
}

// FullFlowResult is the uniform result contract consumed by the debug UI,
// the result broadcaster, and the test framework.
type FullFlowResult struct {
	// Hooks holds one result per hook in execution order, present even for
	// failed hooks.
	Hooks []*HookResult
	// Response is the synthesized final response.
	Response FinalResponse
	// Properties are the values the guest computed during the flow, for the
	// caller to fold back into its own state.
	Properties map[string]string
}

// Hook returns the result for the named hook, or nil.
func (r *FullFlowResult) Hook(name string) *HookResult {
	for _, h := range r.Hooks {
		if h.Hook == name {
			return h
		}
	}
	return nil
}

// synthesizeResponse builds the final response from the context's response
// state after the last stage.
func synthesizeResponse(sc *StreamContext) FinalResponse {
	status := sc.ResponseStatus
	if status == 0 {
		status = 200
	}
	statusText := sc.ResponseStatusText
	if statusText == "" {
		statusText = defaultStatusText(status)
	}

	body := append([]byte(nil), sc.ResponseBody...)
	return FinalResponse{
		Status:      status,
		StatusText:  statusText,
		Headers:     sc.ResponseHeaders.Clone(),
		Body:        body,
		ContentType: sc.ResponseHeaders.Get("content-type"),
		Binary:      len(body) > 0 && !utf8.Valid(body),
	}
}

func defaultStatusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	}
	return ""
}
