package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/quayio/pgreplicate/pkg/pgtime"
)

// Stream implements spec.md §4.6's outer driver: ensure the slot,
// then loop ensuring the replication connection, issuing
// START_REPLICATION, and running the inner CopyBoth loop, reconnecting
// on transient failure until Stop()/Interrupt() or a terminal error.
//
// Stream blocks until it returns, matching
// LeoPlatform-pg_kinesis's connectReplicateLoop / main loop shape.
func (s *Session) Stream(ctx context.Context) error {
	s.setState(StatePreparing)
	if err := s.prepare(ctx); err != nil {
		s.setState(StateFailed)
		return err
	}

	for !s.shouldStop() {
		s.setState(StateConnecting)
		if err := s.ensureConn(ctx, true); err != nil {
			if IsTerminal(err) {
				s.setState(StateFailed)
				return err
			}
			// ensureConn already retried internally per §4.3; a
			// non-terminal failure here (retry budget exhausted, or the
			// connect aborted or cancelled) starts another round unless
			// a stop was requested.
			continue
		}

		if err := s.initReplication(ctx); err != nil {
			s.mu.Lock()
			s.closeConnLocked(ctx)
			s.mu.Unlock()
			if IsTerminal(err) {
				s.setState(StateFailed)
				return err
			}
			s.metrics.incReconnects()
			continue
		}

		now := pgtime.Now()
		if err := s.sendFeedback(ctx, now, true, false); err != nil {
			s.mu.Lock()
			s.closeConnLocked(ctx)
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		s.lastStatusUs = now
		s.mu.Unlock()

		s.setState(StateStreaming)
		err := s.doStream(ctx)
		if err == nil {
			// End of copy, or stop requested: clean exit.
			break
		}
		if IsTerminal(err) {
			s.mu.Lock()
			s.closeConnLocked(ctx)
			s.mu.Unlock()
			s.setState(StateFailed)
			return err
		}

		s.logger.Warn().Err(err).Msg("replication stream interrupted, reconnecting")
		s.mu.Lock()
		s.closeConnLocked(ctx)
		s.mu.Unlock()
		s.metrics.incReconnects()
	}

	s.mu.Lock()
	s.closeConnLocked(ctx)
	s.closeRegularLocked(ctx)
	s.mu.Unlock()

	if s.cfg.DropSlotOnStop && s.createdSlotThisSession {
		if err := s.dropSlot(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drop slot on stop")
		}
	}

	s.setState(StateStopped)
	return nil
}

// prepare implements spec.md §4.6 step 1: ensure the slot exists
// (creating it if configured to) and matches the expected plugin.
func (s *Session) prepare(ctx context.Context) error {
	status, err := s.slotStatus(ctx)
	if err != nil {
		return err
	}

	if status.SlotName == "" {
		if !s.cfg.CreateSlot {
			return newError(KindNoSlot, "replication slot %q does not exist", s.cfg.Slot)
		}
		if err := s.createSlot(ctx); err != nil {
			return err
		}
		s.createdSlotThisSession = true
		s.cfg.CreateSlot = false
		return nil
	}

	if status.Plugin != s.cfg.Plugin {
		return newError(KindBadPlugin, "slot %q is bound to plugin %q, expected %q", s.cfg.Slot, status.Plugin, s.cfg.Plugin)
	}
	return nil
}

// initReplication implements spec.md §4.6 step 3.b: issue
// START_REPLICATION SLOT "slot" LOGICAL hi/lo.
func (s *Session) initReplication(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	startLSN := pglogrepl.LSN(s.startpos)
	s.mu.Unlock()

	if err := pglogrepl.StartReplication(ctx, conn, s.cfg.Slot, startLSN, pglogrepl.StartReplicationOptions{}); err != nil {
		return wrapError(err, KindCommand, "could not start replication on slot %q", s.cfg.Slot)
	}
	return nil
}

// doStream implements spec.md §4.6's inner do_stream loop: receive
// CopyData frames, dispatch 'w'/'k', maintain the periodic-feedback
// deadline, and return nil only on a clean end-of-copy or a stop
// request.
func (s *Session) doStream(ctx context.Context) error {
	for {
		if s.shouldStop() {
			return nil
		}

		select {
		case req := <-s.ackRequests:
			s.handleAckRequest(ctx, req)
		default:
		}

		now := pgtime.Now()
		s.mu.Lock()
		lastStatus := s.lastStatusUs
		s.mu.Unlock()
		if s.cfg.StandbyMessageTimeout > 0 && pgtime.Exceeds(lastStatus, now, s.cfg.StandbyMessageTimeout.Milliseconds()) {
			if err := s.sendFeedback(ctx, now, true, false); err != nil {
				return err
			}
			s.mu.Lock()
			s.lastStatusUs = now
			s.mu.Unlock()
		}

		// Even with standby feedback disabled, bound the receive wait
		// so Stop()/Acknowledge and the global abort flag are
		// re-checked at least once a second — the Go equivalent of
		// the source's EINTR-driven retry-the-loop behavior, since Go
		// has no signal-interrupted blocking syscall to rely on here.
		wakeup, hasDeadline := s.computeWakeup(now)
		if !hasDeadline {
			wakeup = time.Second
		}
		recvCtx, cancel := context.WithTimeout(ctx, wakeup)

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		msg, err := conn.ReceiveMessage(recvCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if pgconn.Timeout(err) {
				continue
			}
			return wrapError(err, KindIO, "waiting for replication message failed")
		}

		if errResp, ok := msg.(*pgproto3.ErrorResponse); ok {
			return wrapError(
				fmt.Errorf("%s: %s (SQLSTATE %s)", errResp.Severity, errResp.Message, errResp.Code),
				KindReplication, "server error from replication stream",
			)
		}

		if _, ok := msg.(*pgproto3.CopyDone); ok {
			// The server ended the copy stream: clean end-of-copy.
			return nil
		}

		copyData, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		if len(copyData.Data) == 0 {
			return newError(KindStreamProtocol, "received empty CopyData frame")
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			if err := s.handleKeepalive(ctx, copyData.Data[1:]); err != nil {
				return err
			}

		case pglogrepl.XLogDataByteID:
			if err := s.handleXLogData(ctx, copyData.Data[1:]); err != nil {
				return err
			}

		default:
			return newError(KindStreamProtocol, "unrecognized CopyData message type %q", copyData.Data[0])
		}
	}
}

// handleKeepalive implements spec.md §6's 'k' frame handling: bump
// decodedLSN to max(decodedLSN, walEnd), and reply immediately if the
// server requested it.
func (s *Session) handleKeepalive(ctx context.Context, body []byte) error {
	pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(body)
	if err != nil {
		return wrapError(err, KindStreamProtocol, "could not parse keepalive message")
	}

	s.mu.Lock()
	if uint64(pkm.ServerWALEnd) > s.decodedLSN {
		s.decodedLSN = uint64(pkm.ServerWALEnd)
	}
	decoded := s.decodedLSN
	s.mu.Unlock()
	s.metrics.setDecodedLSN(decoded)

	if pkm.ReplyRequested {
		now := pgtime.Now()
		if err := s.sendFeedback(ctx, now, true, false); err != nil {
			return err
		}
		s.mu.Lock()
		s.lastStatusUs = now
		s.mu.Unlock()
	}
	return nil
}

// handleXLogData implements spec.md §6's 'w' frame handling: tentatively
// bump decodedLSN, invoke the handler, and roll back on rejection.
func (s *Session) handleXLogData(ctx context.Context, body []byte) error {
	xld, err := pglogrepl.ParseXLogData(body)
	if err != nil {
		return wrapError(err, KindStreamProtocol, "could not parse XLogData message")
	}

	s.mu.Lock()
	preBump := s.decodedLSN
	if uint64(xld.WALStart) > s.decodedLSN {
		s.decodedLSN = uint64(xld.WALStart)
	}
	decoded := s.decodedLSN
	s.mu.Unlock()
	s.metrics.setDecodedLSN(decoded)

	msg := Message{
		LSN:          uint64(xld.WALStart),
		ServerWALEnd: uint64(xld.ServerWALEnd),
		ServerTime:   pgtime.NowAt(xld.ServerTime),
		Payload:      xld.WALData,
	}

	if err := s.handler.HandleMessage(ctx, msg); err != nil {
		s.mu.Lock()
		s.decodedLSN = preBump
		s.mu.Unlock()
		s.metrics.setDecodedLSN(preBump)
		s.metrics.incHandlerErrors()
		return wrapError(err, KindHandlerRejected, "handler rejected message at LSN %s", pglogrepl.LSN(msg.LSN))
	}

	return nil
}

// PeekLSNs returns the current (decoded, committed) watermarks.
// Exposed for observability and tests; not part of the protocol.
func (s *Session) PeekLSNs() (decoded, committed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodedLSN, s.committedLSN
}
