package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDetect  Phase = "detect"  // execution-model classification
	PhaseLoad    Phase = "load"    // module compile/instantiate
	PhaseExecute Phase = "execute" // hook invocation
	PhaseCall    Phase = "call"    // outbound HTTP call dispatched by the guest
	PhasePort    Phase = "port"    // port lease bookkeeping
	PhaseCleanup Phase = "cleanup" // session teardown
	PhaseSuite   Phase = "suite"   // test-suite definition and execution
)

// Kind categorizes the error
type Kind string

const (
	KindLoadFailed    Kind = "load_failed"
	KindMissingExport Kind = "missing_export"
	KindInvalidInput  Kind = "invalid_input"
	KindPortExhausted Kind = "port_exhausted"
	KindDoubleRelease Kind = "double_release"
	KindCallTimeout   Kind = "call_timeout"
	KindCallFailed    Kind = "call_failed"
	KindResumeCeiling Kind = "resume_ceiling"
	KindTrap          Kind = "trap"
	KindSuiteConfig   Kind = "suite_config"
	KindClosed        Kind = "closed"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Stage   string // hook stage name, when the error is stage-scoped
	Subject string // property path, export name, port, or other subject
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Stage != "" {
		b.WriteString(" in ")
		b.WriteString(e.Stage)
	}

	if e.Subject != "" {
		b.WriteString(": ")
		b.WriteString(e.Subject)
	}

	if e.Detail != "" {
		if e.Subject != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Stage sets the hook stage the error occurred in
func (b *Builder) Stage(stage string) *Builder {
	b.err.Stage = stage
	return b
}

// Subject sets the subject of the error (property path, export, port)
func (b *Builder) Subject(subject string) *Builder {
	b.err.Subject = subject
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Load creates a load-phase failure (compile or instantiate)
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExport creates an error for a guest missing a required ABI export
func MissingExport(phase Phase, export string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindMissingExport,
		Subject: export,
		Detail:  "guest does not export required function",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// PortExhausted creates an error for a failed port lease
func PortExhausted(cause error) *Error {
	return &Error{
		Phase:  PhasePort,
		Kind:   KindPortExhausted,
		Detail: "no ephemeral port could be leased",
		Cause:  cause,
	}
}

// DoubleRelease creates an error for releasing a port lease twice
func DoubleRelease(port int) *Error {
	return &Error{
		Phase:   PhasePort,
		Kind:    KindDoubleRelease,
		Subject: fmt.Sprintf("port %d", port),
		Detail:  "lease is not currently held",
	}
}

// CallTimeout creates an error for an outbound call exceeding its deadline
func CallTimeout(stage string, target string) *Error {
	return &Error{
		Phase:   PhaseCall,
		Kind:    KindCallTimeout,
		Stage:   stage,
		Subject: target,
		Detail:  "pending call exceeded its deadline",
	}
}

// ResumeCeiling creates an error for a hook that never reached a terminal status
func ResumeCeiling(stage string, resumes int) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindResumeCeiling,
		Stage:  stage,
		Detail: fmt.Sprintf("hook did not terminate after %d resumes", resumes),
	}
}

// Trap creates an error for a guest function trapping mid-hook
func Trap(stage string, cause error) *Error {
	return &Error{
		Phase: PhaseExecute,
		Kind:  KindTrap,
		Stage: stage,
		Cause: cause,
	}
}

// SuiteConfig creates an error for an invalid suite definition
func SuiteConfig(detail string) *Error {
	return &Error{
		Phase:  PhaseSuite,
		Kind:   KindSuiteConfig,
		Detail: detail,
	}
}

// Closed creates an error for using a session after cleanup
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindClosed,
		Subject: what,
		Detail:  "already cleaned up",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsKind reports whether err (or any error in its chain) is an *Error with the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsPortExhausted reports whether err represents port exhaustion.
func IsPortExhausted(err error) bool { return IsKind(err, KindPortExhausted) }

// IsLoadError reports whether err represents a load-class failure.
func IsLoadError(err error) bool {
	return IsKind(err, KindLoadFailed) || IsKind(err, KindMissingExport)
}

// IsCallTimeout reports whether err represents a pending-call timeout.
func IsCallTimeout(err error) bool { return IsKind(err, KindCallTimeout) }
