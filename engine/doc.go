// Package engine wraps the wazero WebAssembly runtime for the debugger.
//
// The Engine owns a shared compilation cache. Every guest instantiation gets
// its own wazero runtime backed by that cache, so concurrent runner sessions
// never share module namespaces, guest memory, or host-function state, while
// repeated loads of the same binary skip recompilation.
//
// Instantiate accepts a host-module builder callback so callers can bind
// host functions that close over per-session state.
package engine
