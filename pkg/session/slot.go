package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
)

// wantSlotStatusColumns is the exact number of columns slotStatus
// requires from `SELECT * FROM pg_replication_slots`. Nine is the width
// of that view in PostgreSQL 9.4; later releases add columns (12 from
// PostgreSQL 10 on, more after that), and a result of any other width
// fails slotStatus with KindStatus. See SPEC_FULL.md §10.
const wantSlotStatusColumns = 9

// SlotStatus is the snapshot of the configured slot's row in
// pg_replication_slots, per spec.md §3. An empty SlotName means the
// slot is absent.
type SlotStatus struct {
	SlotName string
	Plugin   string
}

// slotStatus implements spec.md §4.4's slot_status: query
// pg_replication_slots for the configured slot, over the regular
// (non-replication) connection, since a replication-mode connection
// disallows ordinary SELECTs (spec.md §9).
func (s *Session) slotStatus(ctx context.Context) (SlotStatus, error) {
	if err := s.ensureConn(ctx, false); err != nil {
		return SlotStatus{}, err
	}

	s.mu.Lock()
	conn := s.regular
	s.mu.Unlock()

	query := fmt.Sprintf("SELECT * FROM pg_replication_slots WHERE slot_name=%s", quoteLiteral(s.cfg.Slot))
	results, err := conn.Exec(ctx, query).ReadAll()
	if err != nil {
		return SlotStatus{}, wrapError(err, KindQuery, "could not query pg_replication_slots for slot %q", s.cfg.Slot)
	}
	if len(results) != 1 {
		return SlotStatus{}, newError(KindStatus, "unexpected number of result sets querying pg_replication_slots: %d", len(results))
	}

	res := results[0]
	if len(res.Rows) > 1 || len(res.FieldDescriptions) != wantSlotStatusColumns {
		return SlotStatus{}, newError(KindStatus,
			"wrong status field shape for slot %q: got %d rows and %d fields, expected <=1 rows and %d fields",
			s.cfg.Slot, len(res.Rows), len(res.FieldDescriptions), wantSlotStatusColumns)
	}

	if len(res.Rows) == 0 {
		return SlotStatus{SlotName: ""}, nil
	}

	row := res.Rows[0]
	return SlotStatus{
		SlotName: string(row[0]),
		Plugin:   string(row[1]),
	}, nil
}

// createSlot implements spec.md §4.4's create_slot: CREATE_REPLICATION_SLOT
// over the replication connection, parsing the returned consistent
// point into Session.startpos.
func (s *Session) createSlot(ctx context.Context) error {
	if err := s.ensureConn(ctx, true); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.logger.Info().Str("slot", s.cfg.Slot).Str("plugin", s.cfg.Plugin).Msg("creating replication slot")

	result, err := pglogrepl.CreateReplicationSlot(ctx, conn, s.cfg.Slot, s.cfg.Plugin, pglogrepl.CreateReplicationSlotOptions{
		Temporary: false,
	})
	if err != nil {
		return wrapError(err, KindReplication, "could not create replication slot %q", s.cfg.Slot)
	}

	lsn, err := pglogrepl.ParseLSN(result.ConsistentPoint)
	if err != nil {
		return wrapError(err, KindStreamProtocol, "could not parse consistent point %q", result.ConsistentPoint)
	}

	s.mu.Lock()
	s.startpos = uint64(lsn)
	s.mu.Unlock()
	s.cfg.Slot = result.SlotName

	return nil
}

// dropSlot implements spec.md §4.4's drop_slot.
func (s *Session) dropSlot(ctx context.Context) error {
	if err := s.ensureConn(ctx, true); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.logger.Info().Str("slot", s.cfg.Slot).Msg("dropping replication slot")

	if err := pglogrepl.DropReplicationSlot(ctx, conn, s.cfg.Slot, pglogrepl.DropReplicationSlotOptions{Wait: true}); err != nil {
		return wrapError(err, KindCommand, "could not drop replication slot %q", s.cfg.Slot)
	}
	return nil
}

// DropSlot is the public Session.drop_slot operation from spec.md §4.7.
func (s *Session) DropSlot(ctx context.Context) error {
	return s.dropSlot(ctx)
}

// CreateSlot is the public Session.create_slot operation from
// spec.md §4.7, for callers (such as the create-slot CLI subcommand)
// that want to create a slot without starting a stream.
func (s *Session) CreateSlot(ctx context.Context) error {
	status, err := s.slotStatus(ctx)
	if err != nil {
		return err
	}
	if status.SlotName != "" {
		return newError(KindReplication, "replication slot %q already exists", s.cfg.Slot)
	}
	return s.createSlot(ctx)
}

// quoteLiteral escapes a SQL string literal by doubling embedded
// single quotes, matching the snprintf("'%s'", ...) quoting
// original_source uses for the slot_name filter.
func quoteLiteral(v string) string {
	escaped := strings.ReplaceAll(v, "'", "''")
	return "'" + escaped + "'"
}
