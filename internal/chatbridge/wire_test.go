package chatbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_ErrorText_BareString(t *testing.T) {
	e := Event{Error: []byte(`"connection timeout"`)}
	assert.Equal(t, "connection timeout", e.ErrorText())
}

func TestEvent_ErrorText_NestedObject(t *testing.T) {
	e := Event{Error: []byte(`{"code":500,"message":"boom"}`)}
	assert.Equal(t, `{"code":500,"message":"boom"}`, e.ErrorText())
}

func TestEvent_ErrorText_Empty(t *testing.T) {
	e := Event{}
	assert.Equal(t, "", e.ErrorText())
}
