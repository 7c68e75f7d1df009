package runner

import (
	"context"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/property"
)

// Runner drives one instantiated module through full flows. Implementations
// are not safe for concurrent use; create one runner per caller.
type Runner interface {
	// CallFullFlow resets the stream context from req and runs the module's
	// whole lifecycle. The result is always FullFlowResult-shaped for
	// failures inside the simulated module; only conditions preventing any
	// execution at all (load, port exhaustion) return an error.
	CallFullFlow(ctx context.Context, req FlowRequest) (*FullFlowResult, error)
	// Cleanup releases the runner's resources. Idempotent; failures are
	// logged, never propagated.
	Cleanup(ctx context.Context) error
}

// FlowRequest describes the synthetic request/response pair a flow starts
// from.
type FlowRequest struct {
	URL    string
	Method string

	RequestHeaders *Headers
	RequestBody    []byte

	// Seed response state, standing in for the upstream the module would
	// see in production.
	ResponseHeaders    *Headers
	ResponseBody       []byte
	ResponseStatus     int
	ResponseStatusText string

	// Properties is an opaque key-value map (e.g. parsed from a .env file)
	// folded into the property table before the flow.
	Properties map[string]string

	// EnforcePropertyRules applies the production access policy. False
	// allows every access, for exploratory debugging.
	EnforcePropertyRules bool
}

// maxStageResumes bounds hook re-invocations per stage so a guest that
// never returns a terminal status becomes a detectable failure instead of
// an infinite loop.
const maxStageResumes = 16

type sessionState int

const (
	stateCreated sessionState = iota
	stateReady
	stateExecuting
	stateCleaned
)

// Config holds per-runner configuration.
type Config struct {
	Logger *zap.Logger

	// CallTimeout caps the deadline of guest-dispatched outbound calls.
	CallTimeout time.Duration
	// MaxCallBodySize caps outbound call response bodies.
	MaxCallBodySize int64
	// BodyChunkSize delivers bodies to body hooks in chunks of this many
	// bytes, exercising buffer-and-resume. 0 delivers whole bodies.
	BodyChunkSize int
	// Geo overrides the synthetic client geolocation.
	Geo *property.Geo
	// ServeTimeout bounds the request-handler model's single round trip.
	ServeTimeout time.Duration
}

// Option configures a runner at creation time.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		CallTimeout:     30 * time.Second,
		MaxCallBodySize: 1 << 20,
		ServeTimeout:    30 * time.Second,
	}
}

// WithLogger sets the runner's logger. Defaults to the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCallTimeout caps guest-dispatched outbound call deadlines.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) { c.CallTimeout = d }
}

// WithMaxCallBodySize caps outbound call response bodies.
func WithMaxCallBodySize(n int64) Option {
	return func(c *Config) { c.MaxCallBodySize = n }
}

// WithBodyChunkSize delivers bodies in n-byte chunks to body hooks.
func WithBodyChunkSize(n int) Option {
	return func(c *Config) { c.BodyChunkSize = n }
}

// WithGeo overrides the synthetic client geolocation.
func WithGeo(g property.Geo) Option {
	return func(c *Config) { c.Geo = &g }
}

// WithServeTimeout bounds the request-handler round trip.
func WithServeTimeout(d time.Duration) Option {
	return func(c *Config) { c.ServeTimeout = d }
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return engine.Logger()
}

// seedContext builds a fresh stream context from the flow request: headers
// and bodies copied in, derived request properties, synthetic geo and
// device values, then the caller's opaque property map.
func seedContext(req FlowRequest, cfg *Config) *StreamContext {
	sc := newStreamContext()

	if req.RequestHeaders != nil {
		sc.RequestHeaders = req.RequestHeaders.Clone()
	}
	if req.ResponseHeaders != nil {
		sc.ResponseHeaders = req.ResponseHeaders.Clone()
	}
	sc.RequestBody = append([]byte(nil), req.RequestBody...)
	sc.ResponseBody = append([]byte(nil), req.ResponseBody...)
	sc.ResponseStatus = req.ResponseStatus
	sc.ResponseStatusText = req.ResponseStatusText

	method := req.Method
	if method == "" {
		method = "GET"
	}
	sc.SetProperty("request.method", method, false)

	if u, err := url.Parse(req.URL); err == nil && req.URL != "" {
		scheme := u.Scheme
		if scheme == "" {
			scheme = "http"
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		sc.SetProperty("request.scheme", scheme, false)
		sc.SetProperty("request.host", u.Host, false)
		sc.SetProperty("request.path", path, false)
		sc.SetProperty("request.url_path", path, false)
		sc.SetProperty("request.query", u.RawQuery, false)
	}
	sc.SetProperty("request.protocol", "HTTP/1.1", false)
	sc.SetProperty("client.address", "127.0.0.1", false)

	geo := property.DefaultGeo()
	if cfg.Geo != nil {
		geo = *cfg.Geo
	}
	geoProps := geo.Properties()
	for _, p := range property.GeoPaths() {
		sc.SetProperty(p, geoProps[p], false)
	}

	if ua := sc.RequestHeaders.Get("user-agent"); ua != "" {
		device := property.DeviceProperties(ua)
		for _, p := range property.DevicePaths() {
			if v, ok := device[p]; ok {
				sc.SetProperty(p, v, false)
			}
		}
	}

	// Caller-supplied opaque map last so it can override the synthetics.
	keys := make([]string, 0, len(req.Properties))
	for k := range req.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sc.SetProperty(k, req.Properties[k], false)
	}

	return sc
}
