package runner

// StreamContext is the per-session mutable view of the simulated stream.
// It is exclusively owned by one runner session and reset by each new full
// flow; hook invocations mutate it through the mediated host functions.
type StreamContext struct {
	RequestHeaders  *Headers
	RequestBody     []byte
	ResponseHeaders *Headers
	ResponseBody    []byte
	Trailers        *Headers

	ResponseStatus     int
	ResponseStatusText string

	props *propertyValues
}

func newStreamContext() *StreamContext {
	return &StreamContext{
		RequestHeaders:  NewHeaders(),
		ResponseHeaders: NewHeaders(),
		Trailers:        NewHeaders(),
		props:           newPropertyValues(),
	}
}

// Property returns the current value of a property path.
func (c *StreamContext) Property(path string) (string, bool) {
	return c.props.get(path)
}

// SetProperty stores a property value. computed marks values written by the
// guest, which fold back into the caller's state after the flow.
func (c *StreamContext) SetProperty(path, value string, computed bool) {
	c.props.set(path, value, computed)
}

// PropertyPaths returns all property paths in insertion order.
func (c *StreamContext) PropertyPaths() []string {
	return c.props.paths()
}

// ComputedProperties returns the properties the guest wrote during the
// flow, keyed by path.
func (c *StreamContext) ComputedProperties() map[string]string {
	return c.props.computed()
}

// headersFor resolves a header map selector to the underlying map.
func (c *StreamContext) headersFor(kind headerMapKind) *Headers {
	switch kind {
	case mapRequestHeaders:
		return c.RequestHeaders
	case mapResponseHeaders:
		return c.ResponseHeaders
	case mapRequestTrailers, mapResponseTrailers:
		return c.Trailers
	}
	return nil
}

// ContextSnapshot is an immutable deep copy of a StreamContext, captured
// before and after each hook for diffing.
type ContextSnapshot struct {
	RequestHeaders  *Headers
	RequestBody     []byte
	ResponseHeaders *Headers
	ResponseBody    []byte
	Trailers        *Headers
	ResponseStatus  int
	Properties      map[string]string
	PropertyOrder   []string
}

// Snapshot deep-copies the context.
func (c *StreamContext) Snapshot() *ContextSnapshot {
	snap := &ContextSnapshot{
		RequestHeaders:  c.RequestHeaders.Clone(),
		ResponseHeaders: c.ResponseHeaders.Clone(),
		Trailers:        c.Trailers.Clone(),
		ResponseStatus:  c.ResponseStatus,
		Properties:      make(map[string]string, len(c.props.order)),
		PropertyOrder:   c.props.paths(),
	}
	snap.RequestBody = append([]byte(nil), c.RequestBody...)
	snap.ResponseBody = append([]byte(nil), c.ResponseBody...)
	for _, p := range snap.PropertyOrder {
		v, _ := c.props.get(p)
		snap.Properties[p] = v
	}
	return snap
}

// propertyValues is an ordered map of property path -> value. Order is part
// of the contract: the UI diffs snapshots positionally.
type propertyValues struct {
	order    []string
	values   map[string]string
	written  map[string]struct{} // paths written by the guest
}

func newPropertyValues() *propertyValues {
	return &propertyValues{
		values:  make(map[string]string),
		written: make(map[string]struct{}),
	}
}

func (p *propertyValues) get(path string) (string, bool) {
	v, ok := p.values[path]
	return v, ok
}

func (p *propertyValues) set(path, value string, computed bool) {
	if _, ok := p.values[path]; !ok {
		p.order = append(p.order, path)
	}
	p.values[path] = value
	if computed {
		p.written[path] = struct{}{}
	}
}

func (p *propertyValues) paths() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func (p *propertyValues) computed() map[string]string {
	out := make(map[string]string, len(p.written))
	for path := range p.written {
		out[path] = p.values[path]
	}
	return out
}
