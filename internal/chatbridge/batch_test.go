package chatbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSessionShaped_MatchesKnownTokens(t *testing.T) {
	assert.True(t, isSessionShaped("session not found"))
	assert.True(t, isSessionShaped("request timed out"))
	assert.True(t, isSessionShaped("channel closed unexpectedly"))
}

func TestIsSessionShaped_NonSessionShaped(t *testing.T) {
	assert.False(t, isSessionShaped("invalid argument"))
	assert.False(t, isSessionShaped(""))
}
