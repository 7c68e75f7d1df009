package runner

import (
	"reflect"
	"testing"
)

func TestHeadersOrderAndCase(t *testing.T) {
	h := NewHeaders(
		"Content-Type", "text/html",
		"X-Request-Id", "abc",
		"Accept", "text/plain",
	)

	if got := h.Get("content-type"); got != "text/html" {
		t.Fatalf("case-insensitive Get = %q, want text/html", got)
	}
	if !h.Has("ACCEPT") {
		t.Fatal("Has should be case-insensitive")
	}

	want := []string{"Content-Type", "X-Request-Id", "Accept"}
	if got := h.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}

	// A Set on an existing key keeps its position; a new key appends.
	h.Set("x-request-id", "def")
	h.Set("Cache-Control", "no-store")
	want = []string{"Content-Type", "X-Request-Id", "Accept", "Cache-Control"}
	if got := h.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys after Set = %v, want %v", got, want)
	}
	if got := h.Get("X-Request-Id"); got != "def" {
		t.Fatalf("Get after Set = %q, want def", got)
	}
}

func TestHeadersAddDeduplicates(t *testing.T) {
	h := NewHeaders()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Add("set-cookie", "a=1")

	if got := h.Values("Set-Cookie"); !reflect.DeepEqual(got, []string{"a=1", "b=2"}) {
		t.Fatalf("Values = %v, want [a=1 b=2]", got)
	}
	if got := h.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1 distinct key", got)
	}
}

func TestHeadersDel(t *testing.T) {
	h := NewHeaders("A", "1", "B", "2", "C", "3")
	h.Del("b")

	if h.Has("B") {
		t.Fatal("Del should remove the key")
	}
	want := []string{"A", "C"}
	if got := h.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys after Del = %v, want %v", got, want)
	}
}

func TestHeadersPairsRepeatsMultiValueKeys(t *testing.T) {
	h := NewHeaders()
	h.Add("Via", "proxy-a")
	h.Add("Via", "proxy-b")
	h.Add("Host", "example.com")

	want := [][2]string{{"Via", "proxy-a"}, {"Via", "proxy-b"}, {"Host", "example.com"}}
	if got := h.Pairs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Pairs = %v, want %v", got, want)
	}
}

func TestHeadersCloneIsIndependent(t *testing.T) {
	h := NewHeaders("A", "1")
	c := h.Clone()
	c.Set("A", "2")
	c.Add("B", "3")

	if got := h.Get("A"); got != "1" {
		t.Fatalf("original mutated through clone: A = %q", got)
	}
	if h.Has("B") {
		t.Fatal("original gained key through clone")
	}

	var nilH *Headers
	if got := nilH.Clone(); got != nil {
		t.Fatalf("Clone of nil = %v, want nil", got)
	}
}
