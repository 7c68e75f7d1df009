package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestError_Format(t *testing.T) {
	err := New(PhaseExecute, KindResumeCeiling).
		Stage("request_body").
		Detail("hook did not terminate after %d resumes", 16).
		Build()

	got := err.Error()
	for _, want := range []string{"[execute]", "resume_ceiling", "request_body", "16 resumes"} {
		if !strings.Contains(got, want) {
			t.Errorf("error string %q missing %q", got, want)
		}
	}
}

func TestError_Is(t *testing.T) {
	err := PortExhausted(nil)

	if !stderrors.Is(err, &Error{Phase: PhasePort, Kind: KindPortExhausted}) {
		t.Error("expected Is to match on phase+kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseLoad, Kind: KindPortExhausted}) {
		t.Error("expected Is to reject different phase")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("bind: address already in use")
	err := PortExhausted(cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if !strings.Contains(err.Error(), "address already in use") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestIsKind_Chain(t *testing.T) {
	inner := CallTimeout("request_body", "http://upstream")
	outer := Wrap(PhaseExecute, KindTrap, inner, "stage failed")

	if !IsCallTimeout(outer) {
		t.Error("expected call timeout through wrap chain")
	}
	if IsPortExhausted(outer) {
		t.Error("unexpected port exhaustion match")
	}
}

func TestIsLoadError(t *testing.T) {
	if !IsLoadError(Load("compile", nil)) {
		t.Error("Load should be a load error")
	}
	if !IsLoadError(MissingExport(PhaseLoad, "handle_request")) {
		t.Error("MissingExport should be a load error")
	}
	if IsLoadError(PortExhausted(nil)) {
		t.Error("PortExhausted should not be a load error")
	}
}
