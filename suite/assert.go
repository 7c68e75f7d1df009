package suite

import (
	"fmt"
	"strings"

	"github.com/edgerun/wasmdbg/runner"
)

// finalRequestHeaders returns the request header state after the last hook.
func finalRequestHeaders(res *runner.FullFlowResult) *runner.Headers {
	if len(res.Hooks) == 0 {
		return nil
	}
	last := res.Hooks[len(res.Hooks)-1]
	if last.After == nil {
		return nil
	}
	return last.After.RequestHeaders
}

// AssertRequestHeader checks the request header's final value after the flow.
func AssertRequestHeader(res *runner.FullFlowResult, key, want string) error {
	h := finalRequestHeaders(res)
	if h == nil {
		return fmt.Errorf("no final request header snapshot")
	}
	if got := h.Get(key); got != want {
		return fmt.Errorf("request header %s = %q, want %q", key, got, want)
	}
	return nil
}

// AssertNoRequestHeader checks that the request header is absent after the
// flow.
func AssertNoRequestHeader(res *runner.FullFlowResult, key string) error {
	h := finalRequestHeaders(res)
	if h == nil {
		return fmt.Errorf("no final request header snapshot")
	}
	if h.Has(key) {
		return fmt.Errorf("request header %s present with %q, want absent", key, h.Get(key))
	}
	return nil
}

// AssertResponseHeader checks a header on the synthesized final response.
func AssertResponseHeader(res *runner.FullFlowResult, key, want string) error {
	if got := res.Response.Headers.Get(key); got != want {
		return fmt.Errorf("response header %s = %q, want %q", key, got, want)
	}
	return nil
}

// AssertFinalStatus checks the synthesized response status.
func AssertFinalStatus(res *runner.FullFlowResult, want int) error {
	if res.Response.Status != want {
		return fmt.Errorf("final status = %d, want %d", res.Response.Status, want)
	}
	return nil
}

// AssertReturnCode checks the terminal status of a named hook.
func AssertReturnCode(res *runner.FullFlowResult, hook string, want runner.ReturnCode) error {
	hr := res.Hook(hook)
	if hr == nil {
		return fmt.Errorf("no result for hook %s", hook)
	}
	if hr.Err != nil {
		return fmt.Errorf("hook %s failed: %w", hook, hr.Err)
	}
	if hr.ReturnCode == nil {
		return fmt.Errorf("hook %s has no return code", hook)
	}
	if *hr.ReturnCode != want {
		return fmt.Errorf("hook %s return code = %s, want %s", hook, *hr.ReturnCode, want)
	}
	return nil
}

// AssertLogContains checks that a named hook emitted a log line containing
// substr.
func AssertLogContains(res *runner.FullFlowResult, hook, substr string) error {
	hr := res.Hook(hook)
	if hr == nil {
		return fmt.Errorf("no result for hook %s", hook)
	}
	for _, line := range hr.Logs {
		if strings.Contains(line, substr) {
			return nil
		}
	}
	return fmt.Errorf("hook %s logs %q do not contain %q", hook, hr.Logs, substr)
}

// HasPropertyAccessViolation reports whether any hook recorded a denied
// access to path.
func HasPropertyAccessViolation(res *runner.FullFlowResult, path string) bool {
	for _, hr := range res.Hooks {
		for _, v := range hr.Violations {
			if v.Path == path {
				return true
			}
		}
	}
	return false
}

// AssertPropertyAllowed checks that the guest wrote path and the write took
// effect.
func AssertPropertyAllowed(res *runner.FullFlowResult, path, want string) error {
	if HasPropertyAccessViolation(res, path) {
		return fmt.Errorf("property %s was denied", path)
	}
	got, ok := res.Properties[path]
	if !ok {
		return fmt.Errorf("property %s was never written", path)
	}
	if got != want {
		return fmt.Errorf("property %s = %q, want %q", path, got, want)
	}
	return nil
}

// AssertPropertyDenied checks that an access to path was denied and the
// write never took effect.
func AssertPropertyDenied(res *runner.FullFlowResult, path string) error {
	if !HasPropertyAccessViolation(res, path) {
		return fmt.Errorf("no violation recorded for property %s", path)
	}
	if _, ok := res.Properties[path]; ok {
		return fmt.Errorf("property %s was denied yet still written", path)
	}
	return nil
}
