package session

import (
	"context"
	"time"

	"github.com/jackc/pglogrepl"

	"github.com/quayio/pgreplicate/pkg/pgtime"
)

// computeWakeup implements spec.md §4.5's compute_wakeup: how long to
// sleep before the next feedback frame is due, never less than one
// second. The boolean is false, meaning "no periodic wakeup", when
// StandbyMessageTimeout is zero or no positive deadline exists.
func (s *Session) computeWakeup(nowUs int64) (time.Duration, bool) {
	if s.cfg.StandbyMessageTimeout == 0 {
		return 0, false
	}

	s.mu.Lock()
	lastStatus := s.lastStatusUs
	s.mu.Unlock()

	timeoutMs := s.cfg.StandbyMessageTimeout.Milliseconds()
	messageTarget := lastStatus + (timeoutMs-1)*1000
	if messageTarget <= 0 {
		return 0, false
	}

	secs, usecs := pgtime.Diff(nowUs, messageTarget)
	if secs <= 0 {
		return time.Second, true
	}
	return time.Duration(secs)*time.Second + time.Duration(usecs)*time.Microsecond, true
}

// sendFeedback implements spec.md §4.5's send_feedback: compose and
// transmit the 34-byte `r` frame (delegated to pglogrepl, which
// implements the exact layout in spec.md §6) unless decodedLSN ==
// committedLSN and force is false.
func (s *Session) sendFeedback(ctx context.Context, nowUs int64, force bool, replyRequested bool) error {
	s.mu.Lock()
	decoded := s.decodedLSN
	committed := s.committedLSN
	s.mu.Unlock()

	if !force && decoded == committed {
		return nil
	}

	if err := s.ensureConn(ctx, true); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	update := pglogrepl.StandbyStatusUpdate{
		WALWritePosition: pglogrepl.LSN(committed),
		WALFlushPosition: pglogrepl.LSN(committed),
		WALApplyPosition: pglogrepl.LSN(0), // InvalidXLogRecPtr, per spec.md §6
		ClientTime:       epochTime(nowUs),
		ReplyRequested:   replyRequested,
	}

	if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, update); err != nil {
		s.mu.Lock()
		s.closeConnLocked(ctx)
		s.mu.Unlock()
		return wrapError(err, KindConnection, "could not send standby status update")
	}

	s.mu.Lock()
	s.lastStatusUs = nowUs
	s.mu.Unlock()
	s.metrics.incFeedbackSent()
	s.metrics.setCommittedLSN(committed)

	return nil
}

// epochTime converts a PostgreSQL-epoch microsecond timestamp back to
// a time.Time for pglogrepl's ClientTime field.
func epochTime(us int64) time.Time {
	return time.Unix(us/1_000_000+946684800, (us%1_000_000)*1_000).UTC()
}

// Acknowledge implements spec.md §4.5's acknowledge / §4.7's public
// acknowledge operation: atomically commit decodedLSN as
// committedLSN, then force-send feedback; roll back on failure. It is
// safe to call from any goroutine — the request is marshalled onto
// the stream loop per spec.md §5's guidance, avoiding a mutex around
// the I/O itself.
func (s *Session) Acknowledge(ctx context.Context) error {
	req := ackRequest{result: make(chan error, 1)}

	select {
	case s.ackRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleAckRequest runs on the stream loop's goroutine.
func (s *Session) handleAckRequest(ctx context.Context, req ackRequest) {
	s.mu.Lock()
	prior := s.committedLSN
	s.committedLSN = s.decodedLSN
	s.mu.Unlock()

	err := s.sendFeedback(ctx, pgtime.Now(), true, false)
	if err != nil {
		s.mu.Lock()
		s.committedLSN = prior
		s.mu.Unlock()
	}
	req.result <- err
}
