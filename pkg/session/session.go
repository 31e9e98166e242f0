// Package session implements the replication-session state machine
// spec.md describes: slot preparation, stream initiation, the
// full-duplex CopyBoth loop, LSN bookkeeping, feedback scheduling,
// keepalive reply, reconnection with backoff, and cancellation.
package session

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/tevino/abool"
)

// SessionState names the outer-driver states spec.md §4.6 describes.
type SessionState int

const (
	StateIdle SessionState = iota
	StatePreparing
	StateConnecting
	StateStreaming
	StateStopped
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// globalAbort is the process-wide cancellation token spec.md §9
// describes: a single flag flipped by an interrupt signal handler,
// shared by every Session in the process. Model it as an atomic bool
// rather than a sig_atomic_t global, per spec.md §9's guidance for
// concurrency-safe languages.
var globalAbort = abool.New()

// Interrupt flips the process-wide abort token. It is safe to call
// from a signal handler: it only sets an atomic flag, exactly as
// spec.md §5 requires ("the handler must be async-signal-safe").
func Interrupt() { globalAbort.SetTo(true) }

// ResetGlobalAbort clears the process-wide token. Exposed for tests
// that spin up more than one Session in the same process.
func ResetGlobalAbort() { globalAbort.SetTo(false) }

// Session is a single replication consumer bound to one slot, per
// spec.md §3's "Session" entity. The zero value is not usable; build
// one with New.
type Session struct {
	cfg    Config
	logger zerolog.Logger
	metrics *Metrics

	handler Handler

	abort *abool.AtomicBool

	mu      sync.Mutex
	state   SessionState
	conn    *pgconn.PgConn // replication-mode connection
	regular *pgconn.PgConn // regular-mode connection, for catalog queries

	startpos     uint64 // spec.md: startpos, the LSN passed to START_REPLICATION
	decodedLSN   uint64
	committedLSN uint64
	lastStatusUs int64 // last_status, PostgreSQL-epoch microseconds

	// createdSlotThisSession records whether prepare() created the
	// slot, so DropSlotOnStop only drops slots this session owns.
	createdSlotThisSession bool

	// everConnected records whether connect() has ever completed
	// successfully, for the life of the Session — independent of
	// SessionState, which moves to StateConnecting before each
	// reconnect attempt inside Stream's loop. RetryInitialConnect
	// must keep retrying until this flips true, however many
	// attempts or reconnects that takes (see connector.go).
	everConnected bool

	// ackRequests marshals Acknowledge calls from other goroutines
	// onto the stream loop, per spec.md §5's guidance to avoid a
	// mutex around the feedback-send critical section.
	ackRequests chan ackRequest
}

type ackRequest struct {
	result chan error
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger attaches a zerolog.Logger; the default is zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New builds a Session for cfg and handler. Call Init before Stream.
func New(cfg Config, handler Handler, opts ...Option) *Session {
	s := &Session{
		cfg:         cfg.withDefaults(),
		logger:      zerolog.Nop(),
		handler:     handler,
		abort:       abool.New(),
		state:       StateIdle,
		ackRequests: make(chan ackRequest, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init validates configuration and eagerly tests a replication
// connection, per spec.md §4.7. It does not start streaming.
func (s *Session) Init(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.ensureConn(ctx, true); err != nil {
		return err
	}
	return nil
}

// Stop requests the stream loop exit at the next opportunity. Safe to
// call from another goroutine or a signal handler.
func (s *Session) Stop() {
	s.abort.SetTo(true)
}

// State returns the current state-machine state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// hasEverConnected reports whether any connect() call, for either the
// replication or regular connection, has ever completed successfully.
func (s *Session) hasEverConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.everConnected
}

func (s *Session) markConnected() {
	s.mu.Lock()
	s.everConnected = true
	s.mu.Unlock()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug().Stringer("state", st).Msg("session state transition")
}

// shouldStop reports whether either cancellation input from spec.md
// §5 is set.
func (s *Session) shouldStop() bool {
	return s.abort.IsSet() || globalAbort.IsSet()
}

// Close releases both connections. Safe to call multiple times.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeConnLocked(ctx)
	s.closeRegularLocked(ctx)
}

func (s *Session) closeConnLocked(ctx context.Context) {
	if s.conn != nil {
		_ = s.conn.Close(ctx)
		s.conn = nil
	}
}

func (s *Session) closeRegularLocked(ctx context.Context) {
	if s.regular != nil {
		_ = s.regular.Close(ctx)
		s.regular = nil
	}
}
