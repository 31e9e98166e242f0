package session

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// testDSN returns the libpq connection string for the scratch Postgres
// instance these tests exercise, following the pack's convention
// (edgeflare-pgo's pgtest helper) of reading it from the environment
// and skipping in short mode rather than mocking *pgconn.PgConn, which
// is a concrete struct with no seam to fake.
func testDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("PGREPLICATE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGREPLICATE_TEST_DSN not set")
	}
	return dsn
}

// TestStreamDeliversInsertedRows covers spec.md §8 scenario 1: cold
// start against a slot-less replica creates the slot, streams an
// inserted row to the handler, and the client acknowledges it.
func TestStreamDeliversInsertedRows(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer admin.Close(ctx)

	_, _ = admin.Exec(ctx, `SELECT pg_drop_replication_slot('pgreplicate_it_slot')
		WHERE EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = 'pgreplicate_it_slot')`)
	_, err = admin.Exec(ctx, `DROP TABLE IF EXISTS pgreplicate_it; CREATE TABLE pgreplicate_it (id int primary key, body text)`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), `DROP TABLE IF EXISTS pgreplicate_it`)
		_, _ = admin.Exec(context.Background(), `SELECT pg_drop_replication_slot('pgreplicate_it_slot')
			WHERE EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = 'pgreplicate_it_slot')`)
	})

	cfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)

	received := make(chan Message, 1)
	handler := HandlerFunc(func(_ context.Context, msg Message) error {
		// test_decoding also emits BEGIN and COMMIT records; only the
		// row change is forwarded, without blocking the stream loop.
		if strings.Contains(string(msg.Payload), "INSERT") {
			select {
			case received <- msg:
			default:
			}
		}
		return nil
	})

	sess := New(Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.User,
		Password:   cfg.Password,
		Database:   cfg.Database,
		Plugin:     "test_decoding",
		Slot:       "pgreplicate_it_slot",
		CreateSlot: true,
	}, handler)

	streamDone := make(chan error, 1)
	go func() { streamDone <- sess.Stream(ctx) }()

	// Stream creates the slot on its own goroutine; changes committed
	// before the slot exists are never decoded.
	require.Eventually(t, func() bool {
		var n int
		err := admin.QueryRow(ctx, `SELECT count(*) FROM pg_replication_slots WHERE slot_name = 'pgreplicate_it_slot'`).Scan(&n)
		return err == nil && n == 1
	}, 15*time.Second, 100*time.Millisecond)

	_, err = admin.Exec(ctx, `INSERT INTO pgreplicate_it (id, body) VALUES (1, 'hello')`)
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Contains(t, string(msg.Payload), "hello")
		require.NoError(t, sess.Acknowledge(ctx))
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for replicated row")
	}

	sess.Stop()
	select {
	case err := <-streamDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Stream did not return after Stop")
	}
}

// TestStreamFailsOnPluginMismatch covers spec.md §8 scenario 2 / §4.6
// step 1: an existing slot bound to a different plugin is a terminal
// KindBadPlugin failure, never retried.
func TestStreamFailsOnPluginMismatch(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer admin.Close(ctx)

	_, _ = admin.Exec(ctx, `SELECT pg_drop_replication_slot('pgreplicate_it_badplugin')
		WHERE EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = 'pgreplicate_it_badplugin')`)
	_, err = admin.Exec(ctx, `SELECT pg_create_logical_replication_slot('pgreplicate_it_badplugin', 'wal2json')`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), `SELECT pg_drop_replication_slot('pgreplicate_it_badplugin')
			WHERE EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = 'pgreplicate_it_badplugin')`)
	})

	cfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)

	sess := New(Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		Plugin:   "test_decoding",
		Slot:     "pgreplicate_it_badplugin",
	}, HandlerFunc(func(context.Context, Message) error { return nil }))

	err = sess.Stream(ctx)
	require.Error(t, err)
	require.Equal(t, KindBadPlugin, Kind(err))
}
