package session

import "context"

// Handler is the user-supplied callback spec.md §3/§6 describes as
// "(user_data, payload_bytes) → success". Go has closures in place of
// user_data, so Handler is a single method over the payload plus the
// XLogData envelope fields a consumer commonly needs for
// bookkeeping (and that the teacher's marshalWALToJSON used the LSN
// for).
//
// Returning a non-nil error is a rejection: per spec.md §4.6/§7 the
// driver rolls DecodedLSN back to its value before this record and
// the current stream() call returns that error.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Message is the decoded XLogData envelope delivered to a Handler.
// Payload is the exact byte range copybuf[25:buf_len] — never
// NUL-terminated or copied into a C-string, per the Open Question in
// spec.md §9.
type Message struct {
	// LSN is the WAL start position this payload begins at
	// (dataStart in spec.md §6).
	LSN uint64
	// ServerWALEnd is the walEnd field of the same XLogData frame.
	ServerWALEnd uint64
	// ServerTime is the frame's sendTime, PostgreSQL-epoch
	// microseconds.
	ServerTime int64
	// Payload is the opaque output-plugin payload. The core never
	// inspects it; parsing it is the Handler's responsibility
	// (spec.md §1 Non-goals).
	Payload []byte
}

// HandlerFunc adapts a plain function to Handler, mirroring the
// standard library's http.HandlerFunc idiom.
type HandlerFunc func(ctx context.Context, msg Message) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) error { return f(ctx, msg) }
