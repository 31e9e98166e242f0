package session

import (
	"fmt"
	"time"
)

const (
	// defaultStandbyMessageTimeout is the feedback interval, per
	// spec.md §3 ("default 10 000" ms).
	defaultStandbyMessageTimeout = 10 * time.Second
	// defaultConnectionTimeout is the total reconnect budget, per
	// spec.md §3 ("default 60 000 000" µs).
	defaultConnectionTimeout = 60 * time.Second
	// maxRetryInterval caps the connector's exponential backoff, per
	// spec.md §4.3 (MAX_RETRY_INTERVAL = 10s).
	maxRetryInterval = 10 * time.Second
	// initialRetryInterval is the connector's first backoff step,
	// 500 000µs per spec.md §4.3.
	initialRetryInterval = 500 * time.Millisecond
)

// Config holds the connection parameters and slot/timer settings
// spec.md §3 and §6 name. It is immutable after Session.Init, matching
// spec.md's "Connection parameters ... immutable after init".
type Config struct {
	// Host, Port, Username, Database, Password are libpq connection
	// parameters (spec.md §6). An empty Database means "use
	// replication=true mode" rather than connecting to a named
	// database — see buildConnString — so it is left untouched by
	// withDefaults and is NOT the same as defaulting to the literal
	// database named "replication".
	Host     string
	Port     uint16
	Username string
	Database string
	Password string

	// ProgName seeds fallback_application_name (spec.md §6).
	ProgName string

	// Plugin is the logical-decoding output plugin name.
	Plugin string
	// Slot is the replication slot name.
	Slot string
	// CreateSlot, if true, creates the slot when absent; otherwise
	// Stream fails with KindNoSlot (spec.md §4.6 step 1).
	CreateSlot bool
	// DropSlotOnStop optionally drops the slot when Stream returns
	// cleanly after Stop(), if CreateSlot created it this session.
	// Off by default — see spec.md §9's open question and
	// SPEC_FULL.md's decision.
	DropSlotOnStop bool

	// RetryInitialConnect, when true, retries replication-connection
	// attempts past ConnectionTimeout, without limit, until the
	// Session's first successful connect — the teacher's
	// --retry-initial flag, for HA setups where the replica may not yet
	// be primary (see SPEC_FULL.md §10). Regular (catalog) connections
	// keep the ConnectionTimeout budget.
	RetryInitialConnect bool

	// StandbyMessageTimeout is the feedback interval (spec.md §3).
	StandbyMessageTimeout time.Duration
	// ConnectionTimeout is the total retry budget of each connect
	// (spec.md §3), for initial connects and reconnects alike.
	ConnectionTimeout time.Duration
}

// withDefaults returns a copy of c with zero-valued fields replaced by
// spec.md §3/§6 defaults, the same merge-with-defaults shape
// edgeflare-pgo's pglogrepl.Config uses.
func (c Config) withDefaults() Config {
	if c.StandbyMessageTimeout == 0 {
		c.StandbyMessageTimeout = defaultStandbyMessageTimeout
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = defaultConnectionTimeout
	}
	return c
}

// Validate checks the configuration invariants Session.Init enforces
// before ever opening a connection.
func (c Config) Validate() error {
	if c.Slot == "" {
		return fmt.Errorf("pgreplicate: slot name must not be empty")
	}
	if c.Plugin == "" {
		return fmt.Errorf("pgreplicate: output plugin name must not be empty")
	}
	if c.StandbyMessageTimeout < 0 {
		return fmt.Errorf("pgreplicate: standby message timeout must not be negative")
	}
	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("pgreplicate: connection timeout must not be negative")
	}
	return nil
}
