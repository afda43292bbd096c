package protocol

import (
	"encoding/binary"

	"github.com/rscore/rs530/internal/cache"
	"github.com/rscore/rs530/internal/protoerr"
)

// JS5Opcode identifies a message on the JS5 cache-file service, once past
// the handshake.
type JS5Opcode byte

const (
	JS5FileRequestNormal   JS5Opcode = 0
	JS5FileRequestPriority JS5Opcode = 1
	JS5LoggedOut           JS5Opcode = 2
	JS5LoggedIn            JS5Opcode = 3
	JS5SetEncryption       JS5Opcode = 4
	JS5ConnectionInfo      JS5Opcode = 5
	JS5InitMarker          JS5Opcode = 6
	JS5Close               JS5Opcode = 7
	JS5ConnectionInfo2     JS5Opcode = 9
)

// FileRequest is a parsed JS5 file request.
type FileRequest struct {
	Index    byte
	Archive  uint16
	Priority bool
}

// IsChecksumTable reports whether the request targets the virtual checksum
// table (index 255, archive 255).
func (r FileRequest) IsChecksumTable() bool { return r.Index == 255 && r.Archive == 255 }

// IsReferenceTable reports whether the request targets a reference table
// (index 255). It is also true for the checksum table (255/255), so
// callers test IsChecksumTable first.
func (r FileRequest) IsReferenceTable() bool { return r.Index == 255 }

// RequestQueue orders pending file requests: priority before normal, FIFO
// within each tier.
type RequestQueue struct {
	priority []FileRequest
	normal   []FileRequest
}

func (q *RequestQueue) Push(r FileRequest) {
	if r.Priority {
		q.priority = append(q.priority, r)
	} else {
		q.normal = append(q.normal, r)
	}
}

func (q *RequestQueue) Pop() (FileRequest, bool) {
	if len(q.priority) > 0 {
		r := q.priority[0]
		q.priority = q.priority[1:]
		return r, true
	}
	if len(q.normal) > 0 {
		r := q.normal[0]
		q.normal = q.normal[1:]
		return r, true
	}
	return FileRequest{}, false
}

func (q *RequestQueue) Len() int { return len(q.priority) + len(q.normal) }

func (q *RequestQueue) IsEmpty() bool { return q.Len() == 0 }

// ClearAll drops every queued request.
func (q *RequestQueue) ClearAll() { q.priority = nil; q.normal = nil }

// ClearNormal drops only normal-priority requests, per the JS5 logout rule.
func (q *RequestQueue) ClearNormal() { q.normal = nil }

// JS5Handler serves cache files over the JS5 wire protocol for one session.
type JS5Handler struct {
	cache         *cache.Store
	queue         RequestQueue
	encryptionKey byte
	loggedIn      bool
}

// NewJS5Handler creates a handler backed by the given cache store.
func NewJS5Handler(store *cache.Store) *JS5Handler {
	return &JS5Handler{cache: store}
}

// Process handles one JS5 opcode+payload and returns the response bytes to
// send back, if any.
func (h *JS5Handler) Process(opcode byte, data []byte) ([]byte, error) {
	switch JS5Opcode(opcode) {
	case JS5FileRequestNormal, JS5FileRequestPriority:
		return h.handleFileRequest(data, opcode == byte(JS5FileRequestPriority))

	case JS5LoggedOut:
		h.loggedIn = false
		h.queue.ClearNormal()
		return nil, nil

	case JS5LoggedIn:
		h.loggedIn = true
		return nil, nil

	case JS5SetEncryption:
		if len(data) >= 3 {
			h.encryptionKey = data[0]
		}
		return nil, nil

	case JS5ConnectionInfo, JS5InitMarker, JS5ConnectionInfo2:
		return nil, nil

	case JS5Close:
		return nil, protoerr.Network("js5 close requested", nil)

	default:
		return nil, nil
	}
}

func (h *JS5Handler) handleFileRequest(data []byte, priority bool) ([]byte, error) {
	if len(data) < 3 {
		return nil, protoerr.Protocol("js5 file request: need 3 bytes", nil)
	}
	req := FileRequest{
		Index:    data[0],
		Archive:  binary.BigEndian.Uint16(data[1:3]),
		Priority: priority,
	}
	return h.buildFileResponse(req)
}

func (h *JS5Handler) buildFileResponse(req FileRequest) ([]byte, error) {
	if req.IsChecksumTable() {
		data := h.cache.GetChecksumTable()
		return encodeChecksumTableResponse(data, req.Priority), nil
	}

	var raw []byte
	if req.IsReferenceTable() {
		raw = h.cache.GetReferenceTable(byte(req.Archive))
	} else {
		raw = h.cache.GetFile(req.Index, uint32(req.Archive))
	}

	if len(raw) < 5 {
		return nil, protoerr.Cache("file data too short for response", nil)
	}

	compression := raw[0]
	length := binary.BigEndian.Uint32(raw[1:5])
	payload := raw[5:]

	if h.encryptionKey != 0 {
		keyed := make([]byte, len(payload))
		for i, b := range payload {
			keyed[i] = b ^ h.encryptionKey
		}
		payload = keyed
	}

	return encodeFileResponse(req.Index, req.Archive, compression, length, payload, req.Priority), nil
}

// encodeFileResponse builds { index, archive(2), settings, length(4), payload }
// with a 0xFF marker inserted every 512 bytes measured from the start of the
// response (counting the 8-byte header).
func encodeFileResponse(index byte, archive uint16, compression byte, length uint32, payload []byte, priority bool) []byte {
	out := make([]byte, 0, len(payload)+16)
	out = append(out, index)
	var archiveBuf [2]byte
	binary.BigEndian.PutUint16(archiveBuf[:], archive)
	out = append(out, archiveBuf[:]...)

	settings := compression
	if priority {
		settings |= 0x80
	}
	out = append(out, settings)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], length)
	out = append(out, lenBuf[:]...)

	offset := 8
	for _, b := range payload {
		if offset == 512 {
			out = append(out, 0xFF)
			offset = 1
		}
		out = append(out, b)
		offset++
	}
	return out
}

// encodeChecksumTableResponse mirrors encodeFileResponse for the virtual
// checksum table: no compression byte is meaningful, and although the
// header written is 8 bytes, the marker count starts at 10, so the first
// marker comes after 502 payload bytes, 2 earlier than for a normal file.
func encodeChecksumTableResponse(data []byte, priority bool) []byte {
	out := make([]byte, 0, len(data)+16)
	out = append(out, 255)
	out = append(out, 0, 255)

	var settings byte
	if priority {
		settings = 0x80
	}
	out = append(out, settings)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	out = append(out, lenBuf[:]...)

	offset := 10
	for _, b := range data {
		if offset == 512 {
			out = append(out, 0xFF)
			offset = 1
		}
		out = append(out, b)
		offset++
	}
	return out
}

// QueueRequest defers a file request for later processing via ProcessQueue.
func (h *JS5Handler) QueueRequest(req FileRequest) { h.queue.Push(req) }

// ProcessQueue handles the next queued request, if any.
func (h *JS5Handler) ProcessQueue() ([]byte, error) {
	req, ok := h.queue.Pop()
	if !ok {
		return nil, nil
	}
	return h.buildFileResponse(req)
}

func (h *JS5Handler) HasPending() bool  { return !h.queue.IsEmpty() }
func (h *JS5Handler) PendingCount() int { return h.queue.Len() }
func (h *JS5Handler) IsLoggedIn() bool  { return h.loggedIn }
