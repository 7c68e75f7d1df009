package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/edgerun/wasmdbg/property"
)

// Header kinds of the request-handler ABI.
const (
	httpKindRequestHeaders  uint32 = 0
	httpKindResponseHeaders uint32 = 1
	httpKindRequestTrailers uint32 = 2
)

func (s *hostState) httpHeadersFor(kind uint32) *Headers {
	switch kind {
	case httpKindRequestHeaders:
		return s.sc.RequestHeaders
	case httpKindResponseHeaders:
		return s.sc.ResponseHeaders
	case httpKindRequestTrailers:
		return s.sc.Trailers
	}
	return nil
}

// writeLimited copies data into the guest's buffer up to limit bytes and
// returns the full length, so a guest with a short buffer can retry.
func writeLimited(mod api.Module, buf, limit uint32, data []byte) uint32 {
	n := len(data)
	if n > int(limit) {
		n = int(limit)
	}
	if n > 0 {
		mod.Memory().Write(buf, data[:n])
	}
	return uint32(len(data))
}

// countLen packs an item count and a byte length into the ABI's i64
// result convention.
func countLen(count, length int) uint64 {
	return uint64(count)<<32 | uint64(uint32(length))
}

// buildHTTPHost binds the request-handler ABI host surface onto builder.
func buildHTTPHost(builder wazero.HostModuleBuilder, st *hostState) {
	b := func(name string, fn any) {
		builder.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	b("enable_features", func(ctx context.Context, features uint32) uint32 {
		// Buffering features are always on: this host never streams.
		return features
	})

	b("log", func(ctx context.Context, mod api.Module, level int32, ptr, size uint32) {
		msg, ok := readGuestMem(mod, ptr, size)
		if !ok {
			return
		}
		name := "info"
		if level >= 0 && int(level) < len(logLevelNames) {
			name = logLevelNames[level]
		}
		st.log(fmt.Sprintf("[%s] %s", name, msg))
	})

	b("log_enabled", func(ctx context.Context, level int32) uint32 {
		return 1
	})

	b("get_method", func(ctx context.Context, mod api.Module, buf, limit uint32) uint32 {
		method, _ := st.sc.Property("request.method")
		return writeLimited(mod, buf, limit, []byte(method))
	})

	b("set_method", func(ctx context.Context, mod api.Module, ptr, size uint32) {
		val, ok := readGuestMem(mod, ptr, size)
		if !ok {
			return
		}
		if d := st.policy.CheckWrite("request.method", st.stage); !d.Allowed() {
			st.recordViolation(property.AccessWrite, "request.method", d, string(val))
			return
		}
		st.sc.SetProperty("request.method", string(val), true)
	})

	b("get_uri", func(ctx context.Context, mod api.Module, buf, limit uint32) uint32 {
		path, _ := st.sc.Property("request.path")
		if path == "" {
			path = "/"
		}
		if query, _ := st.sc.Property("request.query"); query != "" {
			path += "?" + query
		}
		return writeLimited(mod, buf, limit, []byte(path))
	})

	b("set_uri", func(ctx context.Context, mod api.Module, ptr, size uint32) {
		val, ok := readGuestMem(mod, ptr, size)
		if !ok {
			return
		}
		if d := st.policy.CheckWrite("request.path", st.stage); !d.Allowed() {
			st.recordViolation(property.AccessWrite, "request.path", d, string(val))
			return
		}
		uri := string(val)
		path, query := uri, ""
		if i := strings.IndexByte(uri, '?'); i >= 0 {
			path, query = uri[:i], uri[i+1:]
		}
		st.sc.SetProperty("request.path", path, true)
		st.sc.SetProperty("request.query", query, true)
	})

	b("get_protocol_version", func(ctx context.Context, mod api.Module, buf, limit uint32) uint32 {
		proto, _ := st.sc.Property("request.protocol")
		return writeLimited(mod, buf, limit, []byte(proto))
	})

	b("get_header_names", func(ctx context.Context, mod api.Module, kind, buf, limit uint32) uint64 {
		h := st.httpHeadersFor(kind)
		if h == nil {
			return 0
		}
		keys := h.Keys()
		joined := ""
		for _, k := range keys {
			joined += k + "\x00"
		}
		length := writeLimited(mod, buf, limit, []byte(joined))
		return countLen(len(keys), int(length))
	})

	b("get_header_values", func(ctx context.Context, mod api.Module, kind, namePtr, nameLen, buf, limit uint32) uint64 {
		h := st.httpHeadersFor(kind)
		if h == nil {
			return 0
		}
		name, ok := readGuestMem(mod, namePtr, nameLen)
		if !ok {
			return 0
		}
		values := h.Values(string(name))
		joined := ""
		for _, v := range values {
			joined += v + "\x00"
		}
		length := writeLimited(mod, buf, limit, []byte(joined))
		return countLen(len(values), int(length))
	})

	b("set_header_value", func(ctx context.Context, mod api.Module, kind, namePtr, nameLen, valPtr, valLen uint32) {
		h := st.httpHeadersFor(kind)
		if h == nil {
			return
		}
		name, ok1 := readGuestMem(mod, namePtr, nameLen)
		val, ok2 := readGuestMem(mod, valPtr, valLen)
		if !ok1 || !ok2 {
			return
		}
		h.Set(string(name), string(val))
	})

	b("add_header_value", func(ctx context.Context, mod api.Module, kind, namePtr, nameLen, valPtr, valLen uint32) {
		h := st.httpHeadersFor(kind)
		if h == nil {
			return
		}
		name, ok1 := readGuestMem(mod, namePtr, nameLen)
		val, ok2 := readGuestMem(mod, valPtr, valLen)
		if !ok1 || !ok2 {
			return
		}
		h.Add(string(name), string(val))
	})

	b("remove_header", func(ctx context.Context, mod api.Module, kind, namePtr, nameLen uint32) {
		h := st.httpHeadersFor(kind)
		if h == nil {
			return
		}
		name, ok := readGuestMem(mod, namePtr, nameLen)
		if !ok {
			return
		}
		h.Del(string(name))
	})

	b("read_body", func(ctx context.Context, mod api.Module, kind, buf, limit uint32) uint64 {
		var body []byte
		var pos *int
		switch kind {
		case 0:
			body, pos = st.sc.RequestBody, &st.reqBodyPos
		case 1:
			body, pos = st.sc.ResponseBody, &st.respBodyPos
		default:
			return 1 << 32 // unknown kind reads as immediate EOF
		}
		if *pos >= len(body) {
			return 1 << 32
		}
		view := body[*pos:]
		if int(limit) < len(view) {
			view = view[:limit]
		}
		if len(view) > 0 {
			mod.Memory().Write(buf, view)
		}
		*pos += len(view)
		eof := uint64(0)
		if *pos >= len(body) {
			eof = 1 << 32
		}
		return eof | uint64(uint32(len(view)))
	})

	b("write_body", func(ctx context.Context, mod api.Module, kind, ptr, size uint32) {
		data, ok := readGuestMem(mod, ptr, size)
		if !ok {
			return
		}
		switch kind {
		case 0:
			if !st.wroteReqBody {
				st.sc.RequestBody = nil
				st.wroteReqBody = true
			}
			st.sc.RequestBody = append(st.sc.RequestBody, data...)
		case 1:
			if !st.wroteRespBody {
				st.sc.ResponseBody = nil
				st.wroteRespBody = true
			}
			st.sc.ResponseBody = append(st.sc.ResponseBody, data...)
		}
	})

	b("get_status_code", func(ctx context.Context) uint32 {
		if st.sc.ResponseStatus == 0 {
			return 200
		}
		return uint32(st.sc.ResponseStatus)
	})

	b("set_status_code", func(ctx context.Context, code uint32) {
		st.sc.ResponseStatus = int(code)
		st.sc.ResponseStatusText = ""
	})
}
