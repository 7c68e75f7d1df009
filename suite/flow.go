package suite

import (
	"context"
	"net/url"

	"github.com/edgerun/wasmdbg/runner"
)

// FlowOptions describes one synthetic flow. Pseudo request headers
// (":method", ":path", ":authority", ":scheme") are derived from URL and
// Method; a pseudo-header already present in Headers wins over the derived
// value.
type FlowOptions struct {
	URL    string
	Method string

	Headers *runner.Headers
	Body    []byte

	// Seeded upstream response.
	ResponseHeaders *runner.Headers
	ResponseBody    []byte
	ResponseStatus  int

	// Properties folded into the property table before the flow.
	Properties map[string]string

	// Enforce applies the production property access policy.
	Enforce bool
}

// RunFlow derives the pseudo-headers, assembles the flow request, and runs
// it through r.
func RunFlow(ctx context.Context, r runner.Runner, opts FlowOptions) (*runner.FullFlowResult, error) {
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	scheme, authority, path := "http", "", "/"
	if u, err := url.Parse(opts.URL); err == nil && opts.URL != "" {
		if u.Scheme != "" {
			scheme = u.Scheme
		}
		authority = u.Host
		if u.Path != "" {
			path = u.Path
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}

	headers := runner.NewHeaders()
	derived := [][2]string{
		{":method", method},
		{":path", path},
		{":authority", authority},
		{":scheme", scheme},
	}
	for _, d := range derived {
		if opts.Headers != nil && opts.Headers.Has(d[0]) {
			headers.Set(d[0], opts.Headers.Get(d[0]))
			continue
		}
		headers.Set(d[0], d[1])
	}
	if opts.Headers != nil {
		for _, pair := range opts.Headers.Pairs() {
			if len(pair[0]) > 0 && pair[0][0] == ':' {
				continue // already placed above
			}
			headers.Add(pair[0], pair[1])
		}
	}

	return r.CallFullFlow(ctx, runner.FlowRequest{
		URL:                  opts.URL,
		Method:               method,
		RequestHeaders:       headers,
		RequestBody:          opts.Body,
		ResponseHeaders:      opts.ResponseHeaders,
		ResponseBody:         opts.ResponseBody,
		ResponseStatus:       opts.ResponseStatus,
		Properties:           opts.Properties,
		EnforcePropertyRules: opts.Enforce,
	})
}
