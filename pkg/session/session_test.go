package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasEverConnectedTracksMarkConnectedIndependentlyOfState(t *testing.T) {
	s := New(Config{Slot: "slot1", Plugin: "pgoutput"}, nil)

	assert.False(t, s.hasEverConnected())

	// Stream's reconnect loop moves state away from StateIdle before
	// ever calling connect() again; hasEverConnected must not depend
	// on which SessionState the session is currently in.
	s.setState(StateConnecting)
	assert.False(t, s.hasEverConnected())

	s.markConnected()
	assert.True(t, s.hasEverConnected())

	s.setState(StateStreaming)
	assert.True(t, s.hasEverConnected())
}
