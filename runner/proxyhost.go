package runner

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/property"
)

// Header map and buffer selectors of the stream-filter ABI.
type headerMapKind uint32

const (
	mapRequestHeaders      headerMapKind = 0
	mapRequestTrailers     headerMapKind = 1
	mapResponseHeaders     headerMapKind = 2
	mapResponseTrailers    headerMapKind = 3
	mapCallResponseHeaders headerMapKind = 6
)

type bufferKind uint32

const (
	bufRequestBody      bufferKind = 0
	bufResponseBody     bufferKind = 1
	bufCallResponseBody bufferKind = 4
)

// Host call status codes returned to the guest.
const (
	statusOK              uint32 = 0
	statusNotFound        uint32 = 1
	statusBadArgument     uint32 = 2
	statusEmpty           uint32 = 7
	statusInternalFailure uint32 = 10
)

var logLevelNames = [...]string{"trace", "debug", "info", "warn", "error", "critical"}

// hostState is the per-session state the host functions operate on. It is
// exclusively owned by one runner session; the stage machine resets it per
// flow and drains logs/violations per hook.
type hostState struct {
	sc     *StreamContext
	policy *property.Policy
	logger *zap.Logger

	stage string // current hook stage, for property mediation

	logs       []string
	violations []property.Violation

	pending   []*PendingHttpCall
	nextToken uint32

	// Delivery slots for the in-flight call response, readable by the
	// guest inside its response callback.
	callHeaders *Headers
	callBody    []byte

	// bufferedBody limits the request/response body view during
	// buffer-and-resume. Negative means unlimited (full body).
	bufferedLen int

	// Request-handler ABI body cursors and write-replacement flags.
	reqBodyPos    int
	respBodyPos   int
	wroteReqBody  bool
	wroteRespBody bool
}

func newHostState(logger *zap.Logger) *hostState {
	return &hostState{
		logger:      logger,
		policy:      property.Default(true),
		sc:          newStreamContext(),
		nextToken:   1,
		bufferedLen: -1,
	}
}

// reset prepares the state for a new full flow.
func (s *hostState) reset(sc *StreamContext, policy *property.Policy) {
	s.sc = sc
	s.policy = policy
	s.logs = nil
	s.violations = nil
	s.pending = nil
	s.callHeaders = nil
	s.callBody = nil
	s.bufferedLen = -1
	s.reqBodyPos = 0
	s.respBodyPos = 0
	s.wroteReqBody = false
	s.wroteRespBody = false
}

func (s *hostState) setStage(stage string) { s.stage = stage }

func (s *hostState) log(line string) {
	s.logs = append(s.logs, line)
	s.logger.Debug("guest log", zap.String("stage", s.stage), zap.String("line", line))
}

// drain returns and clears the logs and violations accumulated since the
// previous drain. Called once per hook.
func (s *hostState) drain() ([]string, []property.Violation) {
	logs, violations := s.logs, s.violations
	s.logs = nil
	s.violations = nil
	return logs, violations
}

// takePending returns and clears the calls dispatched during the current
// invocation.
func (s *hostState) takePending() []*PendingHttpCall {
	p := s.pending
	s.pending = nil
	return p
}

func (s *hostState) headersFor(kind headerMapKind) *Headers {
	if kind == mapCallResponseHeaders {
		if s.callHeaders == nil {
			return NewHeaders()
		}
		return s.callHeaders
	}
	return s.sc.headersFor(kind)
}

func (s *hostState) bufferFor(kind bufferKind) ([]byte, bool) {
	switch kind {
	case bufRequestBody:
		body := s.sc.RequestBody
		if s.bufferedLen >= 0 && s.stage == property.StageRequestBody && s.bufferedLen < len(body) {
			body = body[:s.bufferedLen]
		}
		return body, true
	case bufResponseBody:
		body := s.sc.ResponseBody
		if s.bufferedLen >= 0 && s.stage == property.StageResponseBody && s.bufferedLen < len(body) {
			body = body[:s.bufferedLen]
		}
		return body, true
	case bufCallResponseBody:
		return s.callBody, true
	}
	return nil, false
}

func (s *hostState) setBuffer(kind bufferKind, data []byte) bool {
	switch kind {
	case bufRequestBody:
		s.sc.RequestBody = data
	case bufResponseBody:
		s.sc.ResponseBody = data
	default:
		return false
	}
	return true
}

// recordViolation logs and records one denied access.
func (s *hostState) recordViolation(kind property.AccessKind, path string, d property.Decision, attempted string) {
	v := property.Violation{
		Path:           path,
		Stage:          s.stage,
		Kind:           kind,
		Decision:       d,
		AttemptedValue: attempted,
	}
	s.violations = append(s.violations, v)

	if kind == property.AccessWrite {
		s.log(fmt.Sprintf("property write denied: path=%s value=%q (%s)", path, attempted, d))
	} else {
		s.log(fmt.Sprintf("property read denied: path=%s (%s)", path, d))
	}
}

// Pair-list wire format: u32 count, then u32 key and value sizes per pair,
// then NUL-terminated keys and values.

func encodePairs(h *Headers) []byte {
	pairs := h.Pairs()
	var buf bytes.Buffer
	tmp := make([]byte, 4)

	binary.LittleEndian.PutUint32(tmp, uint32(len(pairs)))
	buf.Write(tmp)
	for _, p := range pairs {
		binary.LittleEndian.PutUint32(tmp, uint32(len(p[0])))
		buf.Write(tmp)
		binary.LittleEndian.PutUint32(tmp, uint32(len(p[1])))
		buf.Write(tmp)
	}
	for _, p := range pairs {
		buf.WriteString(p[0])
		buf.WriteByte(0)
		buf.WriteString(p[1])
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func decodePairs(data []byte) *Headers {
	h := NewHeaders()
	if len(data) < 4 {
		return h
	}
	count := binary.LittleEndian.Uint32(data)
	sizes := data[4:]
	if uint64(len(sizes)) < uint64(count)*8 {
		return h
	}
	body := sizes[count*8:]
	off := 0
	for i := uint32(0); i < count; i++ {
		klen := int(binary.LittleEndian.Uint32(sizes[i*8:]))
		vlen := int(binary.LittleEndian.Uint32(sizes[i*8+4:]))
		if off+klen+1+vlen+1 > len(body) {
			break
		}
		key := string(body[off : off+klen])
		off += klen + 1
		val := string(body[off : off+vlen])
		off += vlen + 1
		h.Add(key, val)
	}
	return h
}

// pathFromSegments converts the ABI's NUL-separated property path to the
// dotted form the rule table uses.
func pathFromSegments(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{0})
	return strings.ReplaceAll(string(raw), "\x00", ".")
}

// Guest memory plumbing. Host functions receive the calling guest module
// and allocate result buffers through its exported allocator.

func readGuestMem(mod api.Module, ptr, size uint32) ([]byte, bool) {
	if size == 0 {
		return nil, true
	}
	return mod.Memory().Read(ptr, size)
}

func writeGuestResult(ctx context.Context, mod api.Module, data []byte, retPtr, retSize uint32) uint32 {
	if len(data) == 0 {
		mod.Memory().WriteUint32Le(retPtr, 0)
		mod.Memory().WriteUint32Le(retSize, 0)
		return statusOK
	}

	alloc := mod.ExportedFunction("proxy_on_memory_allocate")
	if alloc == nil {
		alloc = mod.ExportedFunction("malloc")
	}
	if alloc == nil {
		return statusInternalFailure
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(res) == 0 || uint32(res[0]) == 0 {
		return statusInternalFailure
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return statusInternalFailure
	}
	if !mod.Memory().WriteUint32Le(retPtr, ptr) || !mod.Memory().WriteUint32Le(retSize, uint32(len(data))) {
		return statusInternalFailure
	}
	return statusOK
}

// buildProxyHost binds the stream-filter ABI host surface onto builder.
// Every function closes over st, which belongs to exactly one session.
func buildProxyHost(builder wazero.HostModuleBuilder, st *hostState) {
	b := func(name string, fn any) {
		builder.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	b("proxy_log", func(ctx context.Context, mod api.Module, level, ptr, size uint32) uint32 {
		msg, ok := readGuestMem(mod, ptr, size)
		if !ok {
			return statusBadArgument
		}
		name := "info"
		if int(level) < len(logLevelNames) {
			name = logLevelNames[level]
		}
		st.log(fmt.Sprintf("[%s] %s", name, msg))
		return statusOK
	})

	b("proxy_get_header_map_pairs", func(ctx context.Context, mod api.Module, kind, retPtr, retSize uint32) uint32 {
		h := st.headersFor(headerMapKind(kind))
		if h == nil {
			return statusBadArgument
		}
		return writeGuestResult(ctx, mod, encodePairs(h), retPtr, retSize)
	})

	b("proxy_get_header_map_value", func(ctx context.Context, mod api.Module, kind, keyPtr, keySize, retPtr, retSize uint32) uint32 {
		h := st.headersFor(headerMapKind(kind))
		if h == nil {
			return statusBadArgument
		}
		key, ok := readGuestMem(mod, keyPtr, keySize)
		if !ok {
			return statusBadArgument
		}
		if !h.Has(string(key)) {
			return statusNotFound
		}
		return writeGuestResult(ctx, mod, []byte(h.Get(string(key))), retPtr, retSize)
	})

	b("proxy_replace_header_map_value", func(ctx context.Context, mod api.Module, kind, keyPtr, keySize, valPtr, valSize uint32) uint32 {
		h := st.headersFor(headerMapKind(kind))
		if h == nil {
			return statusBadArgument
		}
		key, ok1 := readGuestMem(mod, keyPtr, keySize)
		val, ok2 := readGuestMem(mod, valPtr, valSize)
		if !ok1 || !ok2 {
			return statusBadArgument
		}
		h.Set(string(key), string(val))
		return statusOK
	})

	b("proxy_add_header_map_value", func(ctx context.Context, mod api.Module, kind, keyPtr, keySize, valPtr, valSize uint32) uint32 {
		h := st.headersFor(headerMapKind(kind))
		if h == nil {
			return statusBadArgument
		}
		key, ok1 := readGuestMem(mod, keyPtr, keySize)
		val, ok2 := readGuestMem(mod, valPtr, valSize)
		if !ok1 || !ok2 {
			return statusBadArgument
		}
		h.Add(string(key), string(val))
		return statusOK
	})

	b("proxy_remove_header_map_value", func(ctx context.Context, mod api.Module, kind, keyPtr, keySize uint32) uint32 {
		h := st.headersFor(headerMapKind(kind))
		if h == nil {
			return statusBadArgument
		}
		key, ok := readGuestMem(mod, keyPtr, keySize)
		if !ok {
			return statusBadArgument
		}
		h.Del(string(key))
		return statusOK
	})

	b("proxy_get_buffer_bytes", func(ctx context.Context, mod api.Module, kind, start, maxSize, retPtr, retSize uint32) uint32 {
		buf, ok := st.bufferFor(bufferKind(kind))
		if !ok {
			return statusBadArgument
		}
		if int(start) >= len(buf) {
			return statusEmpty
		}
		view := buf[start:]
		if maxSize > 0 && int(maxSize) < len(view) {
			view = view[:maxSize]
		}
		return writeGuestResult(ctx, mod, view, retPtr, retSize)
	})

	b("proxy_set_buffer_bytes", func(ctx context.Context, mod api.Module, kind, start, size, dataPtr, dataSize uint32) uint32 {
		data, ok := readGuestMem(mod, dataPtr, dataSize)
		if !ok {
			return statusBadArgument
		}
		// Whole-buffer replacement; partial writes are not part of this
		// host's contract since bodies are always fully buffered.
		if !st.setBuffer(bufferKind(kind), data) {
			return statusBadArgument
		}
		return statusOK
	})

	b("proxy_get_property", func(ctx context.Context, mod api.Module, pathPtr, pathSize, retPtr, retSize uint32) uint32 {
		raw, ok := readGuestMem(mod, pathPtr, pathSize)
		if !ok {
			return statusBadArgument
		}
		path := pathFromSegments(raw)

		if d := st.policy.CheckRead(path, st.stage); !d.Allowed() {
			st.recordViolation(property.AccessRead, path, d, "")
			return writeGuestResult(ctx, mod, nil, retPtr, retSize)
		}
		val, found := st.sc.Property(path)
		if !found {
			return statusNotFound
		}
		return writeGuestResult(ctx, mod, []byte(val), retPtr, retSize)
	})

	b("proxy_set_property", func(ctx context.Context, mod api.Module, pathPtr, pathSize, valPtr, valSize uint32) uint32 {
		raw, ok1 := readGuestMem(mod, pathPtr, pathSize)
		val, ok2 := readGuestMem(mod, valPtr, valSize)
		if !ok1 || !ok2 {
			return statusBadArgument
		}
		path := pathFromSegments(raw)

		if d := st.policy.CheckWrite(path, st.stage); !d.Allowed() {
			// The stored value stays unchanged; the denial is surfaced in
			// the hook logs and violations, never applied silently.
			st.recordViolation(property.AccessWrite, path, d, string(val))
			return statusOK
		}
		if path == "log.sink" {
			st.log(fmt.Sprintf("[sink] %s", val))
			return statusOK
		}
		st.sc.SetProperty(path, string(val), true)
		return statusOK
	})

	b("proxy_http_call", func(ctx context.Context, mod api.Module,
		uriPtr, uriSize, headersPtr, headersSize, bodyPtr, bodySize,
		trailersPtr, trailersSize, timeoutMs, tokenPtr uint32) uint32 {

		uri, ok := readGuestMem(mod, uriPtr, uriSize)
		if !ok {
			return statusBadArgument
		}
		headerBytes, _ := readGuestMem(mod, headersPtr, headersSize)
		body, _ := readGuestMem(mod, bodyPtr, bodySize)

		headers := decodePairs(headerBytes)
		call := &PendingHttpCall{
			Token:   st.nextToken,
			Target:  string(uri),
			Method:  headers.Get(":method"),
			Path:    headers.Get(":path"),
			Headers: headers,
			Body:    body,
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
			Stage:   st.stage,
		}
		st.nextToken++
		st.pending = append(st.pending, call)

		if !mod.Memory().WriteUint32Le(tokenPtr, call.Token) {
			return statusBadArgument
		}
		st.log(fmt.Sprintf("dispatched call token=%d target=%s", call.Token, call.Target))
		return statusOK
	})

	b("proxy_set_effective_context", func(ctx context.Context, id uint32) uint32 {
		return statusOK
	})

	b("proxy_done", func(ctx context.Context) uint32 {
		return statusOK
	})

	b("proxy_set_tick_period_milliseconds", func(ctx context.Context, ms uint32) uint32 {
		return statusOK
	})

	b("proxy_get_current_time_nanoseconds", func(ctx context.Context, mod api.Module, retPtr uint32) uint32 {
		now := uint64(time.Now().UnixNano())
		if !mod.Memory().WriteUint64Le(retPtr, now) {
			return statusBadArgument
		}
		return statusOK
	})
}
