package chatbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal_MatchesKnownTokens(t *testing.T) {
	cases := []string{
		"connection timeout",
		"操作超时，请重试",
		"must logout first before reconnecting",
		"尝试重启中",
		"Unhandled rejection in worker",
		"read: ECONNRESET",
		"write: socket hang up",
	}
	for _, msg := range cases {
		assert.True(t, isFatal(msg), "expected %q to be fatal", msg)
	}
}

func TestIsFatal_NonFatal(t *testing.T) {
	assert.False(t, isFatal("invalid recipient id"))
	assert.False(t, isFatal(""))
}
