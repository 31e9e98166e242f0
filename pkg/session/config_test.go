package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	c := Config{Slot: "myslot", Plugin: "pgoutput"}.withDefaults()

	// Database is left empty by withDefaults: it signals "replication=true
	// mode" to buildConnString, which applies its own "replication"
	// dbname literal for display rather than mutating Config.
	assert.Equal(t, "", c.Database)
	assert.Equal(t, defaultStandbyMessageTimeout, c.StandbyMessageTimeout)
	assert.Equal(t, defaultConnectionTimeout, c.ConnectionTimeout)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{
		Slot:                  "myslot",
		Plugin:                "pgoutput",
		Database:              "mydb",
		StandbyMessageTimeout: 5 * time.Second,
		ConnectionTimeout:     30 * time.Second,
	}.withDefaults()

	assert.Equal(t, "mydb", c.Database)
	assert.Equal(t, 5*time.Second, c.StandbyMessageTimeout)
	assert.Equal(t, 30*time.Second, c.ConnectionTimeout)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Slot: "s", Plugin: "p"}, false},
		{"missing slot", Config{Plugin: "p"}, true},
		{"missing plugin", Config{Slot: "s"}, true},
		{"negative standby timeout", Config{Slot: "s", Plugin: "p", StandbyMessageTimeout: -1}, true},
		{"negative connection timeout", Config{Slot: "s", Plugin: "p", ConnectionTimeout: -1}, true},
	}

	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.wantErr {
			require.Errorf(t, err, "case %s", tc.name)
		} else {
			require.NoErrorf(t, err, "case %s", tc.name)
		}
	}
}
