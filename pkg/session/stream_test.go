package session

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildKeepaliveBody constructs the wire payload handleKeepalive
// receives (the 'k' type byte already stripped by doStream):
// ServerWALEnd(8) + ServerTime(8) + ReplyRequested(1).
func buildKeepaliveBody(walEnd uint64, serverTimeUs int64, replyRequested bool) []byte {
	buf := make([]byte, 17)
	binary.BigEndian.PutUint64(buf[0:8], walEnd)
	binary.BigEndian.PutUint64(buf[8:16], uint64(serverTimeUs))
	if replyRequested {
		buf[16] = 1
	}
	return buf
}

// buildXLogDataBody constructs the wire payload handleXLogData
// receives (the 'w' type byte already stripped): WALStart(8) +
// ServerWALEnd(8) + ServerTime(8) + payload.
func buildXLogDataBody(walStart, walEnd uint64, serverTimeUs int64, payload []byte) []byte {
	buf := make([]byte, 24+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], walStart)
	binary.BigEndian.PutUint64(buf[8:16], walEnd)
	binary.BigEndian.PutUint64(buf[16:24], uint64(serverTimeUs))
	copy(buf[24:], payload)
	return buf
}

func TestHandleXLogDataUpdatesDecodedLSNAndDispatches(t *testing.T) {
	var got Message
	s := New(Config{Slot: "s", Plugin: "test_decoding"}, HandlerFunc(func(_ context.Context, msg Message) error {
		got = msg
		return nil
	}))

	body := buildXLogDataBody(100, 200, 0, []byte("payload"))
	err := s.handleXLogData(context.Background(), body)

	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.decodedLSN)
	assert.Equal(t, uint64(100), got.LSN)
	assert.Equal(t, uint64(200), got.ServerWALEnd)
	assert.Equal(t, []byte("payload"), got.Payload)
}

func TestHandleXLogDataRollsBackDecodedLSNOnHandlerError(t *testing.T) {
	refused := errors.New("downstream unavailable")
	s := New(Config{Slot: "s", Plugin: "test_decoding"}, HandlerFunc(func(context.Context, Message) error {
		return refused
	}))
	s.decodedLSN = 50

	body := buildXLogDataBody(100, 200, 0, []byte("payload"))
	err := s.handleXLogData(context.Background(), body)

	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.True(t, IsTerminal(err), "a rejecting handler must be terminal per spec.md §7")
	assert.Equal(t, uint64(50), s.decodedLSN, "decodedLSN must roll back to its pre-bump value")
}

func TestHandleXLogDataNeverAdvancesLSNBackwards(t *testing.T) {
	s := newTestSession(t)
	s.decodedLSN = 500

	body := buildXLogDataBody(100, 150, 0, nil)
	err := s.handleXLogData(context.Background(), body)

	require.NoError(t, err)
	assert.Equal(t, uint64(500), s.decodedLSN, "decodedLSN must never move backwards")
}

func TestHandleKeepaliveWithoutReplyDoesNotTouchConnection(t *testing.T) {
	s := newTestSession(t)

	body := buildKeepaliveBody(300, 0, false)
	err := s.handleKeepalive(context.Background(), body)

	require.NoError(t, err)
	assert.Equal(t, uint64(300), s.decodedLSN)
}

func TestHandleKeepaliveNeverAdvancesLSNBackwards(t *testing.T) {
	s := newTestSession(t)
	s.decodedLSN = 900

	body := buildKeepaliveBody(300, 0, false)
	err := s.handleKeepalive(context.Background(), body)

	require.NoError(t, err)
	assert.Equal(t, uint64(900), s.decodedLSN)
}
