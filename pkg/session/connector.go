package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jpillora/backoff"
)

// ensureConn opens the replication (database) or regular (false)
// connection if it is not already open, per spec.md §4.3. It is the
// Go realization of pghx_ld_reader_connect in original_source.
func (s *Session) ensureConn(ctx context.Context, replication bool) error {
	s.mu.Lock()
	already := s.conn != nil
	if !replication {
		already = s.regular != nil
	}
	s.mu.Unlock()
	if already {
		return nil
	}

	conn, err := s.connect(ctx, replication)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if replication {
		s.conn = conn
	} else {
		s.regular = conn
	}
	s.mu.Unlock()
	return nil
}

// connect implements spec.md §4.3 steps 1-5: build the parameter set,
// retry with capped exponential backoff until success, the
// session/global abort flag, or the connection_timeout deadline, then
// verify integer_datetimes=on.
func (s *Session) connect(ctx context.Context, replication bool) (*pgconn.PgConn, error) {
	connString := s.buildConnString(replication)

	b := &backoff.Backoff{
		Min:    initialRetryInterval,
		Max:    maxRetryInterval,
		Factor: 2,
	}

	deadline := time.Now().Add(s.cfg.ConnectionTimeout)
	// retryInitial must stay true across every reconnect attempt up to
	// the Session's very first successful connect, however many
	// attempts that takes — gate on "has this Session ever connected",
	// not on SessionState, which has already left StateIdle by the
	// time Stream's reconnect loop calls ensureConn.
	retryInitial := replication && s.cfg.RetryInitialConnect && !s.hasEverConnected()

	for {
		if s.shouldStop() {
			return nil, newError(KindConnection, "connect aborted before completion")
		}

		connCfg, err := pgconn.ParseConfig(connString)
		if err != nil {
			return nil, wrapError(err, KindOutOfMemory, "could not build connection config")
		}

		conn, err := pgconn.ConnectConfig(ctx, connCfg)
		if err == nil {
			if verr := verifyIntegerDatetimes(conn); verr != nil {
				_ = conn.Close(ctx)
				return nil, verr
			}
			s.markConnected()
			return conn, nil
		}

		if isPasswordError(err) {
			return nil, wrapError(err, KindPassword, "password needed")
		}

		now := time.Now()
		if !retryInitial && now.After(deadline) {
			return nil, wrapError(err, KindConnection, "could not connect to server after %s", s.cfg.ConnectionTimeout)
		}

		wait := b.Duration()
		if !retryInitial {
			if remaining := deadline.Sub(now); wait > remaining {
				wait = remaining
			}
			if wait <= 0 {
				return nil, wrapError(err, KindConnection, "could not connect to server after %s", s.cfg.ConnectionTimeout)
			}
		}

		s.metrics.incConnectRetries()
		s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("cannot connect, retrying")

		select {
		case <-ctx.Done():
			return nil, wrapError(ctx.Err(), KindConnection, "connect cancelled")
		case <-time.After(wait):
		}
	}
}

// buildConnString composes the libpq keyword/value parameter set
// spec.md §4.3 step 1 describes, as a conninfo string so
// fallback_application_name is honored by libpq the same way it is
// for a C client (pgconn.ParseConfig understands conninfo strings
// directly, including this key).
func (s *Session) buildConnString(replication bool) string {
	var b strings.Builder

	// An unset Database means "no specific database": dbname is still
	// sent as the literal "replication" (matching
	// original_source/src/pghx/logicaldecoding.c's
	// pghx_ld_reader_connect), but the replication mode is "true"
	// rather than "database"/"false".
	dbname := s.cfg.Database
	if dbname == "" {
		dbname = "replication"
	}
	writeParam(&b, "dbname", dbname)

	replParam := "false"
	if s.cfg.Database == "" {
		replParam = "true"
	} else if replication {
		replParam = "database"
	}
	writeParam(&b, "replication", replParam)

	if s.cfg.ProgName != "" {
		writeParam(&b, "fallback_application_name", s.cfg.ProgName)
	}
	if s.cfg.Host != "" {
		writeParam(&b, "host", s.cfg.Host)
	}
	if s.cfg.Username != "" {
		writeParam(&b, "user", s.cfg.Username)
	}
	if s.cfg.Port != 0 {
		writeParam(&b, "port", fmt.Sprintf("%d", s.cfg.Port))
	}
	if s.cfg.Password != "" {
		writeParam(&b, "password", s.cfg.Password)
	}

	return b.String()
}

func writeParam(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteConnValue(value))
}

// quoteConnValue applies libpq conninfo quoting: wrap in single
// quotes and backslash-escape embedded quotes/backslashes whenever the
// value is empty or contains whitespace or a quote/backslash.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t'\\") {
		return v
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range v {
		if r == '\'' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

// verifyIntegerDatetimes enforces spec.md §4.3 step 4: the server
// must report integer_datetimes=on.
func verifyIntegerDatetimes(conn *pgconn.PgConn) error {
	v := conn.ParameterStatus("integer_datetimes")
	if v != "on" {
		return newError(KindConnection, "server integer_datetimes=%q, expected \"on\"", v)
	}
	return nil
}

// isPasswordError approximates PQconnectionNeedsPassword: pgx/v5 does
// not expose a typed "password required" error, so this matches the
// message libpq's SASL/MD5 handshake returns when no password was
// configured; other wordings are not recognised.
func isPasswordError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "password") && (strings.Contains(msg, "required") || strings.Contains(msg, "supplied"))
}
