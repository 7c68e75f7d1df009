package runner

import "github.com/edgerun/wasmdbg/property"

// Stage is one of the four ordered hook points of the stream-filter model.
type Stage int

const (
	StageRequestHeaders Stage = iota
	StageRequestBody
	StageResponseHeaders
	StageResponseBody
)

// Stages lists the hook stages in execution order.
var Stages = [4]Stage{
	StageRequestHeaders,
	StageRequestBody,
	StageResponseHeaders,
	StageResponseBody,
}

func (s Stage) String() string {
	switch s {
	case StageRequestHeaders:
		return property.StageRequestHeaders
	case StageRequestBody:
		return property.StageRequestBody
	case StageResponseHeaders:
		return property.StageResponseHeaders
	case StageResponseBody:
		return property.StageResponseBody
	}
	return "unknown"
}

// IsBody reports whether the stage carries a body buffer and participates
// in buffer-and-resume.
func (s Stage) IsBody() bool {
	return s == StageRequestBody || s == StageResponseBody
}

// requestStageName is the synthetic single stage of the request-handler
// model, used for hook naming and property mediation.
const requestStageName = property.StageRequest
