package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

func TestRunIDRoundTrip(t *testing.T) {
	id := NewRunID()
	parsed, err := ParseRunID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRunIDRejectsGarbage(t *testing.T) {
	_, err := ParseRunID("run-1")
	assert.True(t, fault.Is(err, fault.Config))
}

func TestNewRunIDUnique(t *testing.T) {
	seen := map[RunID]bool{}
	for range 100 {
		id := NewRunID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
