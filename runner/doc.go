// Package runner drives a classified wasm module through a synthetic
// request/response lifecycle and captures every host-visible side effect.
//
// A Runner is bound to one instantiated module for its whole life. The
// stream-filter runner walks the four ordered hook stages with
// buffer-and-resume and nested outbound call handling; the request-handler
// runner leases a local port and bridges exactly one HTTP request into the
// guest. Both produce the same FullFlowResult shape so a debugging UI, a
// result broadcaster, and the test-suite runner consume them identically.
//
// Construction goes through the Factory, which owns the process-wide port
// ledger shared by all request-handler runners.
package runner
