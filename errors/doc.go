// Package errors provides structured error types for the wasmdbg module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the hook stage, the subject (a property
// path, export name, or port), and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseExecute, errors.KindResumeCeiling).
//		Stage("request_body").
//		Detail("hook did not terminate after %d resumes", 16).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Load("instantiate module", cause)
//	err := errors.PortExhausted(cause)
//	err := errors.MissingExport(errors.PhaseLoad, "proxy_on_request_headers")
//
// All errors implement the standard error interface and support errors.Is/As;
// two *Error values match when their Phase and Kind are equal.
package errors
