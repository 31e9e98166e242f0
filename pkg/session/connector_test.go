package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteConnValuePassesThroughSimpleValues(t *testing.T) {
	assert.Equal(t, "replication", quoteConnValue("replication"))
}

func TestQuoteConnValueQuotesWhitespaceAndEscapes(t *testing.T) {
	assert.Equal(t, "''", quoteConnValue(""))
	assert.Equal(t, "'with space'", quoteConnValue("with space"))
	assert.Equal(t, `'o\'brien'`, quoteConnValue("o'brien"))
	assert.Equal(t, `'back\\slash'`, quoteConnValue(`back\slash`))
}

func TestBuildConnStringIncludesReplicationModeAndParams(t *testing.T) {
	s := New(Config{
		Host:     "db.internal",
		Port:     5433,
		Username: "replicator",
		Password: "s3cret",
		Database: "appdb",
		ProgName: "pgreplicate",
		Slot:     "slot1",
		Plugin:   "pgoutput",
	}, nil)

	connString := s.buildConnString(true)

	assert.Contains(t, connString, "dbname=appdb")
	assert.Contains(t, connString, "replication=database")
	assert.Contains(t, connString, "host=db.internal")
	assert.Contains(t, connString, "user=replicator")
	assert.Contains(t, connString, "port=5433")
	assert.Contains(t, connString, "password=s3cret")
	assert.Contains(t, connString, "fallback_application_name=pgreplicate")
}

func TestBuildConnStringRegularModeDisablesReplication(t *testing.T) {
	s := New(Config{Database: "appdb", Slot: "slot1", Plugin: "pgoutput"}, nil)

	connString := s.buildConnString(false)

	assert.Contains(t, connString, "replication=false")
}

func TestBuildConnStringUnsetDatabaseUsesReplicationTrueMode(t *testing.T) {
	s := New(Config{Slot: "slot1", Plugin: "pgoutput"}, nil)

	connString := s.buildConnString(true)

	assert.Contains(t, connString, "dbname=replication")
	assert.Contains(t, connString, "replication=true")
}

func TestIsPasswordErrorMatchesLibpqWording(t *testing.T) {
	assert.True(t, isPasswordError(errors.New("password authentication required for user \"replicator\"")))
	assert.True(t, isPasswordError(errors.New("fe_sendauth: no password supplied")))
	assert.False(t, isPasswordError(errors.New("connection refused")))
}
