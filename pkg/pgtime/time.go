// Package pgtime implements the timestamp and integer wire-encoding
// helpers a PostgreSQL replication client needs: microsecond
// timestamps in the server's epoch (2000-01-01 UTC, matching libpq's
// integer_datetimes format) and big-endian uint64 encode/decode
// helpers in the replication protocol's wire order.
package pgtime

import (
	"encoding/binary"
	"time"
)

// postgresEpochOffset is the number of seconds between the Unix epoch
// (1970-01-01) and the PostgreSQL epoch (2000-01-01), i.e.
// (POSTGRES_EPOCH_JDATE - UNIX_EPOCH_JDATE) * 86400.
const postgresEpochOffset = 946684800

// Now returns the current time as microseconds since the PostgreSQL
// epoch, matching feGetCurrentTimestamp() in libpq's fe_utils under
// integer_datetimes=on (the only mode modern servers support).
func Now() int64 {
	return NowAt(time.Now())
}

// NowAt converts an arbitrary wall-clock time the same way Now does;
// exported so callers (and tests) can pin a clock without a fake.
func NowAt(t time.Time) int64 {
	secs := t.Unix() - postgresEpochOffset
	return secs*1_000_000 + int64(t.Nanosecond())/1_000
}

// Diff returns the non-negative (seconds, microseconds) span between
// start and stop, both in PostgreSQL-epoch microseconds. A negative
// span (stop before start) clamps to zero, matching
// feTimestampDifference's behavior.
func Diff(start, stop int64) (secs int64, usecs int64) {
	d := stop - start
	if d <= 0 {
		return 0, 0
	}
	return d / 1_000_000, d % 1_000_000
}

// Exceeds reports whether stop is at least ms milliseconds after
// start, both in PostgreSQL-epoch microseconds.
func Exceeds(start, stop int64, ms int64) bool {
	return stop-start >= ms*1_000
}

// EncodeUint64 encodes v as 8 big-endian bytes, the wire order used
// for every LSN and timestamp field in the replication protocol.
func EncodeUint64(v uint64) [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf
}

// DecodeUint64 decodes 8 big-endian bytes. It panics if b has fewer
// than 8 bytes; callers must length-check the buffer first.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[:8])
}
