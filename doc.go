// Package wasmdbg is a local debugger for WebAssembly edge functions.
//
// It loads a compiled edge-function module, classifies it into one of two
// execution models, and drives it through a synthetic HTTP request/response
// lifecycle without deploying to a real edge platform. Every host-visible
// side effect of the module (headers, bodies, typed properties, outbound
// HTTP calls, logs) is mediated and captured so that a debugging UI or an
// automated test suite can inspect exactly what the module did.
//
// # Architecture Overview
//
// The repository is organized into packages with distinct responsibilities:
//
//	wasmdbg/             Root package documentation
//	├── engine/          Low-level wazero integration: compile, instantiate, call guests
//	├── detect/          Execution-model classification (proxy-wasm vs http-wasm)
//	├── property/        Typed property rule table and access mediation
//	├── runner/          Flow orchestration: stage machine, port leasing, runner factory
//	├── suite/           Sequential test-suite execution with per-case isolation
//	├── errors/          Structured error types for debugging
//	└── cmd/wasmdbg/     CLI entry point with an interactive result browser
//
// # Execution Models
//
// A stream-filter (proxy-wasm) module sees traffic through four ordered hook
// stages: request headers, request body, response headers, response body.
// A request-handler (http-wasm) module handles exactly one synthesized
// request bound to a leased local port and produces one response.
//
// # Quick Start
//
// Run a module through a full flow:
//
//	eng, _ := engine.New(ctx)
//	defer eng.Close(ctx)
//
//	model := detect.Detect(ctx, eng, wasmBytes)
//	factory := runner.NewFactory(eng)
//
//	r, err := factory.Create(ctx, model, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Cleanup(ctx)
//
//	result, err := r.CallFullFlow(ctx, runner.FlowRequest{
//	    URL:    "https://example.com/path",
//	    Method: "GET",
//	})
//
// The returned FullFlowResult carries one HookResult per stage (in stage
// order, present even when a stage failed), the synthesized final response,
// and any properties the module computed.
package wasmdbg
