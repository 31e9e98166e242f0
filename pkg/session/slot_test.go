package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteLiteralEscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, "'plain'", quoteLiteral("plain"))
	assert.Equal(t, "'o''brien'", quoteLiteral("o'brien"))
	assert.Equal(t, "''", quoteLiteral(""))
}
