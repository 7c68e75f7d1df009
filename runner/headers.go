package runner

import "strings"

// Headers is an ordered, case-insensitive header multimap. Insertion order
// is preserved so before/after snapshots diff deterministically; net/http's
// Header map cannot guarantee that.
type Headers struct {
	entries []headerEntry
}

type headerEntry struct {
	key    string // original casing of first insertion
	values []string
}

// NewHeaders builds a Headers from alternating key/value pairs, preserving
// the given order.
func NewHeaders(pairs ...string) *Headers {
	h := &Headers{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

// HeadersFromMap builds a Headers from a plain map, ordering keys by the
// order of the keys slice; keys absent from the slice are skipped.
func HeadersFromMap(m map[string]string, order []string) *Headers {
	h := &Headers{}
	for _, k := range order {
		if v, ok := m[k]; ok {
			h.Add(k, v)
		}
	}
	return h
}

func (h *Headers) find(key string) int {
	for i := range h.entries {
		if strings.EqualFold(h.entries[i].key, key) {
			return i
		}
	}
	return -1
}

// Get returns the first value for key, or "".
func (h *Headers) Get(key string) string {
	if i := h.find(key); i >= 0 && len(h.entries[i].values) > 0 {
		return h.entries[i].values[0]
	}
	return ""
}

// Has reports whether key is present.
func (h *Headers) Has(key string) bool {
	return h.find(key) >= 0
}

// Values returns all values for key in insertion order.
func (h *Headers) Values(key string) []string {
	if i := h.find(key); i >= 0 {
		out := make([]string, len(h.entries[i].values))
		copy(out, h.entries[i].values)
		return out
	}
	return nil
}

// Set replaces all values for key with one value. A new key keeps its
// insertion position at the end.
func (h *Headers) Set(key, value string) {
	if i := h.find(key); i >= 0 {
		h.entries[i].values = []string{value}
		return
	}
	h.entries = append(h.entries, headerEntry{key: key, values: []string{value}})
}

// Add appends a value for key, deduplicating exact repeats per key so
// values stay unique per key.
func (h *Headers) Add(key, value string) {
	i := h.find(key)
	if i < 0 {
		h.entries = append(h.entries, headerEntry{key: key, values: []string{value}})
		return
	}
	for _, v := range h.entries[i].values {
		if v == value {
			return
		}
	}
	h.entries[i].values = append(h.entries[i].values, value)
}

// Del removes key entirely.
func (h *Headers) Del(key string) {
	if i := h.find(key); i >= 0 {
		h.entries = append(h.entries[:i], h.entries[i+1:]...)
	}
}

// Len returns the number of distinct keys.
func (h *Headers) Len() int {
	return len(h.entries)
}

// Pairs flattens the map into key/value pairs in insertion order, repeating
// keys with multiple values.
func (h *Headers) Pairs() [][2]string {
	var out [][2]string
	for _, e := range h.entries {
		for _, v := range e.values {
			out = append(out, [2]string{e.key, v})
		}
	}
	return out
}

// Keys returns the distinct keys in insertion order.
func (h *Headers) Keys() []string {
	out := make([]string, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.key
	}
	return out
}

// Clone deep-copies the map.
func (h *Headers) Clone() *Headers {
	if h == nil {
		return nil
	}
	out := &Headers{entries: make([]headerEntry, len(h.entries))}
	for i, e := range h.entries {
		vs := make([]string, len(e.values))
		copy(vs, e.values)
		out.entries[i] = headerEntry{key: e.key, values: vs}
	}
	return out
}
