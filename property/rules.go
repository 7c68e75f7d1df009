package property

// Classification of a property path.
type Classification int

const (
	ReadOnly Classification = iota
	ReadWrite
	WriteOnly
)

func (c Classification) String() string {
	switch c {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case WriteOnly:
		return "write-only"
	}
	return "unknown"
}

// Hook stage names, shared with the runner package. The "request" stage is
// the single synthetic stage of the request-handler model.
const (
	StageRequestHeaders  = "request_headers"
	StageRequestBody     = "request_body"
	StageResponseHeaders = "response_headers"
	StageResponseBody    = "response_body"
	StageRequest         = "request"
)

var allStages = []string{
	StageRequestHeaders, StageRequestBody,
	StageResponseHeaders, StageResponseBody,
	StageRequest,
}

var requestWriteStages = []string{StageRequestHeaders, StageRequest}

var responseStages = []string{
	StageResponseHeaders, StageResponseBody, StageRequest,
}

// Rule binds one property path to its classification and the stages in
// which each access direction is legal.
type Rule struct {
	Path        string
	Class       Classification
	ReadStages  []string
	WriteStages []string
}

// geoPaths lists the synthetic client geolocation fields, in the order they
// are seeded into a new flow.
var geoPaths = []string{
	"client.geo.as_name",
	"client.geo.as_number",
	"client.geo.city",
	"client.geo.conn_speed",
	"client.geo.continent",
	"client.geo.country_code",
	"client.geo.country_name",
	"client.geo.latitude",
	"client.geo.longitude",
	"client.geo.region",
}

// devicePaths lists the device fields derived from the User-Agent header.
var devicePaths = []string{
	"client.device.browser",
	"client.device.browser_version",
	"client.device.os",
	"client.device.family",
}

// DefaultRules returns the production rule table. The result is shared and
// must not be mutated.
func DefaultRules() map[string]Rule {
	return defaultRules
}

var defaultRules = buildDefaultRules()

func buildDefaultRules() map[string]Rule {
	rules := []Rule{
		{Path: "request.path", Class: ReadWrite, ReadStages: allStages, WriteStages: requestWriteStages},
		{Path: "request.host", Class: ReadWrite, ReadStages: allStages, WriteStages: requestWriteStages},
		{Path: "request.query", Class: ReadWrite, ReadStages: allStages, WriteStages: requestWriteStages},
		{Path: "request.url_path", Class: ReadWrite, ReadStages: allStages, WriteStages: requestWriteStages},

		{Path: "request.method", Class: ReadOnly, ReadStages: allStages},
		{Path: "request.scheme", Class: ReadOnly, ReadStages: allStages},
		{Path: "request.protocol", Class: ReadOnly, ReadStages: allStages},
		{Path: "client.address", Class: ReadOnly, ReadStages: allStages},

		{Path: "response.status", Class: ReadWrite, ReadStages: responseStages, WriteStages: responseStages},
		{Path: "response.grpc_status", Class: ReadWrite, ReadStages: responseStages, WriteStages: responseStages},

		{Path: "log.sink", Class: WriteOnly, WriteStages: allStages},
	}

	for _, p := range geoPaths {
		rules = append(rules, Rule{Path: p, Class: ReadOnly, ReadStages: allStages})
	}
	for _, p := range devicePaths {
		rules = append(rules, Rule{Path: p, Class: ReadOnly, ReadStages: allStages})
	}

	table := make(map[string]Rule, len(rules))
	for _, r := range rules {
		table[r.Path] = r
	}
	return table
}
