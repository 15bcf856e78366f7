package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infiniact/agent-hub-sub000/internal/acp/jsonrpc"
	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/acp/transport"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
)

// newHarness wires a Client over a pair of in-memory pipes standing in for a
// child process's stdio, with a goroutine on the other end playing the role
// of the agent: it reads every outbound request and replies using the
// caller-supplied responder, letting each test script exactly what the
// "agent" says back.
func newHarness(t *testing.T, respond func(req map[string]interface{}) (interface{}, bool)) *Client {
	t.Helper()

	clientStdin, agentStdout := io.Pipe()
	agentStdin, clientStdout := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(agentStdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var req map[string]interface{}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			reply, ok := respond(req)
			if !ok {
				continue
			}
			line, _ := json.Marshal(reply)
			line = append(line, '\n')
			_, _ = agentStdout.Write(line)
		}
	}()

	t.Cleanup(func() {
		clientStdin.Close()
		clientStdout.Close()
	})

	tr := transport.New(clientStdout, clientStdin, logger.Default())
	registry := session.New()
	return New(tr, registry, logger.Default())
}

func TestInitialize_DecodesAuthMethods(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != jsonrpc.MethodInitialize {
			return nil, false
		}
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]interface{}{
				"protocolVersion": 1,
				"authMethods":     []map[string]string{{"id": "oauth"}},
			},
		}, true
	})

	result, err := c.Initialize(context.Background())
	require.NoError(t, err)
	require.Len(t, result.AuthMethods, 1)
	assert.Equal(t, "oauth", result.AuthMethods[0].ID)
}

func TestInitialize_PropagatesAgentError(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != jsonrpc.MethodInitialize {
			return nil, false
		}
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"error":   map[string]interface{}{"code": -32000, "message": "boom"},
		}, true
	})

	_, err := c.Initialize(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestSessionNew_Success(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != jsonrpc.MethodSessionNew {
			return nil, false
		}
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]interface{}{"sessionId": "sess-1"},
		}, true
	})

	result, err := c.SessionNew(context.Background(), "/tmp/work")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", result.SessionID)
}

func TestSessionNew_AuthShapedErrorTriggersRecoveryAttempt(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		switch req["method"] {
		case jsonrpc.MethodSessionNew:
			return map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"error":   map[string]interface{}{"code": -32000, "message": "unauthorized: please login"},
			}, true
		case jsonrpc.MethodAuthenticate:
			return map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result":  map[string]interface{}{"url": "https://example.com/login"},
			}, true
		default:
			return nil, false
		}
	})

	_, err := c.SessionNew(context.Background(), "/tmp/work")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com/login")
}

func TestSessionLoad_Success(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != jsonrpc.MethodSessionLoad {
			return nil, false
		}
		return map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": map[string]interface{}{}}, true
	})

	err := c.SessionLoad(context.Background(), "proto-1")
	assert.NoError(t, err)
}

func TestEnsureSession_ReusesActiveSession(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		t.Fatalf("unexpected outbound call: %v", req["method"])
		return nil, false
	})

	c.sessions.Create("ext-1", "agent-1")
	c.sessions.SetProtocolSessionID("ext-1", "proto-1")
	c.sessions.MarkActive("ext-1")

	protoID, err := c.EnsureSession(context.Background(), "ext-1", "agent-1", "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "proto-1", protoID)
}

func TestEnsureSession_PromotesTempSlotForFirstRealSession(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		t.Fatalf("unexpected outbound call: %v", req["method"])
		return nil, false
	})

	tempKey := session.TempKey("agent-1")
	c.sessions.Create(tempKey, "agent-1")
	c.sessions.SetProtocolSessionID(tempKey, "proto-temp")
	c.sessions.MarkActive(tempKey)

	protoID, err := c.EnsureSession(context.Background(), "ext-2", "agent-1", "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "proto-temp", protoID)

	_, stillThere := c.sessions.Get(tempKey)
	assert.False(t, stillThere, "temp slot should have been consumed")
}

func TestEnsureSession_CreatesFreshSessionWhenNothingCached(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != jsonrpc.MethodSessionNew {
			return nil, false
		}
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]interface{}{"sessionId": "proto-fresh"},
		}, true
	})

	protoID, err := c.EnsureSession(context.Background(), "ext-3", "agent-1", "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "proto-fresh", protoID)

	info, ok := c.sessions.Get("ext-3")
	require.True(t, ok)
	assert.Equal(t, session.StateActive, info.State)
}

func TestPrompt_CollectsFinalResultText(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != jsonrpc.MethodSessionPrompt {
			return nil, false
		}
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]interface{}{
				"content": []map[string]string{{"type": "text", "text": " final"}},
			},
		}, true
	})

	text, err := c.Prompt(context.Background(), "sess-1", "hello", false)
	require.NoError(t, err)
	assert.Contains(t, text, "final")
}

func TestPrompt_TimesOutWithoutResponse(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		return nil, false // agent never answers
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Prompt(ctx, "sess-1", "hello", false)
	assert.Error(t, err)
}

func TestCancel_SendsNotificationWithoutWaitingForResponse(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] == jsonrpc.MethodSessionCancel {
			received <- req
		}
		return nil, false
	})

	require.NoError(t, c.Cancel("sess-1"))

	select {
	case req := <-received:
		assert.Nil(t, req["id"], "cancel must be sent as a notification, no id")
	case <-time.After(time.Second):
		t.Fatal("cancel notification was never observed")
	}
}

func TestEnd_LogsButDoesNotPanicOnTimeout(t *testing.T) {
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		return nil, false // agent never answers session/end
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c.End(ctx, "sess-1") // must not panic; failures are swallowed by design
}

func TestHandleRequestPermission_NoOptionsCancelsAutomatically(t *testing.T) {
	responses := make(chan map[string]interface{}, 1)
	c := newHarness(t, func(req map[string]interface{}) (interface{}, bool) {
		if _, isRequest := req["method"]; !isRequest {
			responses <- req // this is the response the client wrote back
		}
		return nil, false
	})

	msg := &jsonrpc.RawMessage{
		ID:     json.RawMessage(`99`),
		Method: jsonrpc.MethodRequestPermission,
		Params: json.RawMessage(`{"sessionId":"s1","toolCall":{"toolCallId":"tc1"},"options":[]}`),
	}
	c.dispatchInbound(context.Background(), msg, "", nil)

	select {
	case resp := <-responses:
		result, ok := resp["result"].(map[string]interface{})
		require.True(t, ok)
		outcome, ok := result["outcome"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "cancelled", outcome["outcome"])
	case <-time.After(time.Second):
		t.Fatal("expected a response to be written back for the permission request")
	}
}
